package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/reporter/internal/report"
)

const (
	progressKeyPrefix = "run:progress:"
	lockKeyPrefix     = "sched:lock:"
)

var ErrSnapshotNotFound = errors.New("progress snapshot not found")

// RunCache keeps per-run progress snapshots in Redis so any API replica
// can answer progress polls for a run executing elsewhere.
type RunCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRunCache(client *redis.Client, ttl time.Duration) *RunCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RunCache{client: client, ttl: ttl}
}

func (r *RunCache) SaveSnapshot(ctx context.Context, runID string, snap report.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, progressKeyPrefix+runID, data, r.ttl).Err()
}

func (r *RunCache) GetSnapshot(ctx context.Context, runID string) (report.ProgressSnapshot, error) {
	val, err := r.client.Get(ctx, progressKeyPrefix+runID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return report.ProgressSnapshot{}, ErrSnapshotNotFound
		}
		return report.ProgressSnapshot{}, err
	}
	var snap report.ProgressSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return report.ProgressSnapshot{}, err
	}
	return snap, nil
}

// AcquireLock takes a distributed lock to avoid duplicate scheduled runs.
func (r *RunCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, lockKeyPrefix+key, "1", ttl).Result()
}

func (r *RunCache) ReleaseLock(ctx context.Context, key string) error {
	return r.client.Del(ctx, lockKeyPrefix+key).Err()
}
