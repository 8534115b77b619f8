// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ratelimit throttles token-issuing requests with a Redis-backed
// fixed window.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

// Default limiter settings.
const (
	DefaultLimit  = 5
	DefaultWindow = 15 * time.Minute
	DefaultPrefix = "accounts:ratelimit"
)

// Limiter decides whether a request may proceed.
type Limiter interface {
	// Allow records a hit for key within scope and returns an error wrapping
	// account.ErrRateLimited once the scope's limit is exceeded.
	Allow(ctx context.Context, scope, key string) error
}

// LimitedError reports a rejected request and when the window resets.
type LimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}

// Unwrap makes errors.Is(err, account.ErrRateLimited) hold.
func (e *LimitedError) Unwrap() error { return account.ErrRateLimited }

// Config configures RedisLimiter.
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// RedisLimiter counts hits per key in a fixed window stored in Redis.
// Keys are hashed so raw identifiers such as email addresses never reach Redis.
// Redis failures are logged and the request is allowed.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// NewRedisLimiter creates a RedisLimiter. Zero config fields take defaults.
func NewRedisLimiter(client redis.Cmdable, cfg Config, logger *slog.Logger) (*RedisLimiter, error) {
	if client == nil {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").Errorf("redis client is required")
	}
	if cfg.Limit < 0 || cfg.Window < 0 {
		return nil, oops.Code("RATELIMIT_CONFIG_INVALID").
			With("limit", cfg.Limit).
			With("window", cfg.Window).
			Errorf("limit and window must not be negative")
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{client: client, cfg: cfg, logger: logger}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, scope, key string) error {
	redisKey := l.key(scope, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "scope", scope, "error", err)
		return nil
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			l.logger.WarnContext(ctx, "failed to set rate limit window", "scope", scope, "error", err)
		}
	}
	if count <= int64(l.cfg.Limit) {
		return nil
	}

	retryAfter, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = l.cfg.Window
	}
	return oops.Code("RATE_LIMITED").
		With("scope", scope).
		With("retry_after", retryAfter).
		Wrap(&LimitedError{Scope: scope, RetryAfter: retryAfter})
}

func (l *RedisLimiter) key(scope, key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(key))))
	return l.cfg.Prefix + ":" + scope + ":" + hex.EncodeToString(sum[:])
}

// Nop allows every request. It is used when Redis is not configured.
type Nop struct{}

// Allow implements Limiter.
func (Nop) Allow(context.Context, string, string) error { return nil }
