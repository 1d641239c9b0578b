package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/jobs"
)

const (
	redisJobKeyPrefix = "price-tracker:job:"
	redisJobIndexKey  = "price-tracker:jobs"
)

// RedisStore keeps each job snapshot under its own key plus a sorted-set
// index ordered by creation time, so listings come back newest first
// without scanning the keyspace.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A non-zero ttl expires finished
// snapshots; zero keeps them forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (rs *RedisStore) Save(ctx context.Context, job *jobs.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, redisJobKeyPrefix+job.ID, data, rs.expiry(job))
	pipe.ZAdd(ctx, redisJobIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

func (rs *RedisStore) Load(ctx context.Context, id string) (*jobs.Job, error) {
	data, err := rs.client.Get(ctx, redisJobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &job, nil
}

func (rs *RedisStore) List(ctx context.Context) ([]*jobs.Job, error) {
	ids, err := rs.client.ZRevRange(ctx, redisJobIndexKey, 0, 99).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]*jobs.Job, 0, len(ids))
	for _, id := range ids {
		job, err := rs.Load(ctx, id)
		if err == jobs.ErrNotFound {
			// Snapshot expired but index entry survived.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}

	return out, nil
}

func (rs *RedisStore) expiry(job *jobs.Job) time.Duration {
	if rs.ttl > 0 && job.State.Terminal() {
		return rs.ttl
	}
	return 0
}
