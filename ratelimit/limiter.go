// Package ratelimit implements a Redis fixed window throttle.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "registrar:throttle:"

// Config sizes the window.
type Config struct {
	// MaxAttempts is how many calls per key are allowed in one window.
	MaxAttempts int
	// Window is the length of a window, starting at the first call.
	Window time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
}

// DefaultConfig allows five attempts per key every fifteen minutes.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Window: 15 * time.Minute, Prefix: defaultPrefix}
}

// Limiter counts calls per key with INCR and starts the window with EXPIRE
// on the first call.
type Limiter struct {
	redis  redis.Cmdable
	config Config
}

// New returns a Limiter. Zero fields in cfg take the defaults.
func New(client redis.Cmdable, cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return &Limiter{redis: client, config: cfg}
}

// Allow records one attempt for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.redisKey(key)

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	return count <= int64(l.config.MaxAttempts), nil
}

// Remaining returns how many attempts are left for key in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.redisKey(key)).Int64()
	if err == redis.Nil {
		return l.config.MaxAttempts, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit get: %w", err)
	}
	if left := int64(l.config.MaxAttempts) - count; left > 0 {
		return int(left), nil
	}
	return 0, nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.redisKey(key)).Err()
}

// redisKey hashes the caller key so emails never appear in Redis.
func (l *Limiter) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return l.config.Prefix + hex.EncodeToString(sum[:16])
}
