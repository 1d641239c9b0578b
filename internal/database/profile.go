package database

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/profile"
)

// ProfileStore serves site profiles from postgres behind a small LRU
// cache. Profiles are read-only during job execution (external writers
// update the table between jobs), so cached entries only need to survive
// one job's lifetime.
type ProfileStore struct {
	db    *DB
	cache *lru.Cache[string, *profile.SiteProfile]
}

const profileCacheSize = 256

func NewProfileStore(db *DB) (*ProfileStore, error) {
	cache, err := lru.New[string, *profile.SiteProfile](profileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}

	return &ProfileStore{db: db, cache: cache}, nil
}

func (s *ProfileStore) Get(ctx context.Context, site string) (*profile.SiteProfile, bool, error) {
	if p, ok := s.cache.Get(site); ok {
		return p, p != nil, nil
	}

	var rules []byte
	err := s.db.QueryRow(ctx, `SELECT rules FROM site_profiles WHERE site = $1`, site).Scan(&rules)
	if err == pgx.ErrNoRows {
		// Negative entries are cached too; most sites have no profile.
		s.cache.Add(site, nil)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load profile for %s: %w", site, err)
	}

	p := &profile.SiteProfile{Site: site}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal profile for %s: %w", site, err)
	}

	s.cache.Add(site, p)
	return p, true, nil
}
