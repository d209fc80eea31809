package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptsKeyPrefix = "login_failures:"

// AttemptTracker counts failed sign-ins per account key and decides lockout.
type AttemptTracker interface {
	// Locked reports whether the key has reached the failure threshold.
	Locked(ctx context.Context, key string) (bool, error)

	// RecordFailure counts one more failure and returns the new total.
	RecordFailure(ctx context.Context, key string) (int64, error)

	// Reset forgets all failures for the key.
	Reset(ctx context.Context, key string) error
}

// RedisAttempts keeps failure counters in Redis. A counter expires
// lockout after the first failure, and again once the threshold is hit so the
// lockout lasts its full duration.
type RedisAttempts struct {
	rdb         *redis.Client
	maxFailures int64
	lockout     time.Duration
}

func NewRedisAttempts(rdb *redis.Client, maxFailures int, lockout time.Duration) *RedisAttempts {
	return &RedisAttempts{rdb: rdb, maxFailures: int64(maxFailures), lockout: lockout}
}

func (a *RedisAttempts) Locked(ctx context.Context, key string) (bool, error) {
	n, err := a.rdb.Get(ctx, attemptsKeyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= a.maxFailures, nil
}

func (a *RedisAttempts) RecordFailure(ctx context.Context, key string) (int64, error) {
	k := attemptsKeyPrefix + key
	n, err := a.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 || n == a.maxFailures {
		if err := a.rdb.Expire(ctx, k, a.lockout).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, attemptsKeyPrefix+key).Err()
}

// MemoryAttempts is an in-process AttemptTracker for single-instance deployments.
type MemoryAttempts struct {
	mu          sync.Mutex
	counters    map[string]*attemptCounter
	maxFailures int64
	lockout     time.Duration
	now         func() time.Time
}

type attemptCounter struct {
	failures  int64
	expiresAt time.Time
}

func NewMemoryAttempts(maxFailures int, lockout time.Duration) *MemoryAttempts {
	return &MemoryAttempts{
		counters:    make(map[string]*attemptCounter),
		maxFailures: int64(maxFailures),
		lockout:     lockout,
		now:         time.Now,
	}
}

func (a *MemoryAttempts) Locked(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.live(key)
	return c != nil && c.failures >= a.maxFailures, nil
}

func (a *MemoryAttempts) RecordFailure(_ context.Context, key string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.live(key)
	if c == nil {
		c = &attemptCounter{}
		a.counters[key] = c
	}
	c.failures++
	if c.failures == 1 || c.failures == a.maxFailures {
		c.expiresAt = a.now().Add(a.lockout)
	}
	return c.failures, nil
}

func (a *MemoryAttempts) Reset(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counters, key)
	return nil
}

// live returns the counter for key, dropping it if expired. Caller holds mu.
func (a *MemoryAttempts) live(key string) *attemptCounter {
	c, ok := a.counters[key]
	if !ok {
		return nil
	}
	if !a.now().Before(c.expiresAt) {
		delete(a.counters, key)
		return nil
	}
	return c
}
