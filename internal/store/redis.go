package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oops.Code("REDIS_UNAVAILABLE").With("addr", addr).Wrap(err)
	}
	return rdb, nil
}
