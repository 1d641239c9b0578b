package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/jobs"
)

// JobStore persists job-ledger snapshots in postgres. The snapshot itself
// is opaque JSON; state and creation time are lifted into columns for
// listing.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Save(ctx context.Context, job *jobs.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	query := `
		INSERT INTO scrape_jobs (id, snapshot, state, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			state = EXCLUDED.state`

	if _, err := s.db.Exec(ctx, query, job.ID, snapshot, string(job.State), job.CreatedAt); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

func (s *JobStore) Load(ctx context.Context, id string) (*jobs.Job, error) {
	var snapshot []byte

	err := s.db.QueryRow(ctx, `SELECT snapshot FROM scrape_jobs WHERE id = $1`, id).Scan(&snapshot)
	if err == pgx.ErrNoRows {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job jobs.Job
	if err := json.Unmarshal(snapshot, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &job, nil
}

func (s *JobStore) List(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT snapshot FROM scrape_jobs
		ORDER BY created_at DESC
		LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		var job jobs.Job
		if err := json.Unmarshal(snapshot, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		out = append(out, &job)
	}

	return out, rows.Err()
}
