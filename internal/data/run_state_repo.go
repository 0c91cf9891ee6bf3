package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRunStateRepo implements the RunStateRepository interface using Redis.
// It holds two key families per job: a single-flight run lock with a TTL the
// engine refreshes while alive, and a cancellation flag the batch scheduler
// polls at batch boundaries.
type RedisRunStateRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRunStateRepo creates a new RedisRunStateRepo with the given Redis client.
func NewRedisRunStateRepo(client redis.UniversalClient) *RedisRunStateRepo {
	return &RedisRunStateRepo{
		client: client,
		prefix: "dripline:",
	}
}

// NewRedisRunStateRepoWithPrefix creates a run state repo with a custom key prefix.
func NewRedisRunStateRepoWithPrefix(client redis.UniversalClient, prefix string) *RedisRunStateRepo {
	return &RedisRunStateRepo{
		client: client,
		prefix: prefix,
	}
}

const cancelFlagTTL = 24 * time.Hour

func (r *RedisRunStateRepo) lockKey(jobID string) string {
	return r.prefix + "run:" + jobID
}

func (r *RedisRunStateRepo) cancelKey(jobID string) string {
	return r.prefix + "cancel:" + jobID
}

// AcquireRunLock atomically claims the run lock for a job. Uses Redis SET
// with NX and TTL options for guaranteed atomicity; returns false when
// another engine instance already holds the lock.
func (r *RedisRunStateRepo) AcquireRunLock(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	if jobID == "" {
		return false, errors.New("job ID cannot be empty")
	}
	if ttl <= 0 {
		return false, errors.New("lock TTL must be positive")
	}

	acquired, err := r.client.SetNX(ctx, r.lockKey(jobID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx run lock: %w", err)
	}
	return acquired, nil
}

// RefreshRunLock extends the lock TTL while a run is in flight. A missing
// lock means the holder lost it (TTL lapse or external cleanup) and must stop.
func (r *RedisRunStateRepo) RefreshRunLock(ctx context.Context, jobID string, ttl time.Duration) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	ok, err := r.client.Expire(ctx, r.lockKey(jobID), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis expire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("run lock for job %s no longer held", jobID)
	}
	return nil
}

// ReleaseRunLock drops the run lock after the run finalizes.
func (r *RedisRunStateRepo) ReleaseRunLock(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	if err := r.client.Del(ctx, r.lockKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del run lock: %w", err)
	}
	return nil
}

// RequestCancel raises the cooperative cancellation flag for a job. The flag
// carries its own TTL so an unobserved cancel cannot linger forever.
func (r *RedisRunStateRepo) RequestCancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	if err := r.client.Set(ctx, r.cancelKey(jobID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("redis set cancel flag: %w", err)
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested for a job.
func (r *RedisRunStateRepo) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, errors.New("job ID cannot be empty")
	}

	result, err := r.client.Exists(ctx, r.cancelKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists cancel flag: %w", err)
	}
	return result > 0, nil
}

// ClearCancel drops the cancellation flag once the run has acted on it.
func (r *RedisRunStateRepo) ClearCancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	if err := r.client.Del(ctx, r.cancelKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del cancel flag: %w", err)
	}
	return nil
}
