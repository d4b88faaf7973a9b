package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	// CheckRateLimit counts one hit against key and reports whether it is
	// within requests per window.
	CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	client redis.Cmdable
}

func NewRateLimitRepository(client redis.Cmdable) RateLimitRepository {
	return &rateLimitRepository{client: client}
}

func (r *rateLimitRepository) CheckRateLimit(ctx context.Context, key string, requests int, window time.Duration) (bool, error) {
	// Keys contain phone numbers; only the hash reaches Redis.
	hashedKey := fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		count *redis.IntCmd
		ttl   *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, hashedKey)
		ttl = pipe.TTL(ctx, hashedKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	// A negative TTL means the window has not been started for this key yet.
	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, hashedKey, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	return count.Val() <= int64(requests), nil
}
