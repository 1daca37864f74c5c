/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for join-code lookups.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultJoinCodeTTL bounds how long a code stays cached. Sessions expire
// after a day, so a stale entry never outlives its session by much.
const DefaultJoinCodeTTL = 10 * time.Minute

// KeyJoinCode prefixes join-code entries; the value is the session id.
const KeyJoinCode = "listenparty:cache:join_code:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JoinCodeTTL time.Duration

	// DisableOnError trips the breaker on Redis errors for RetryAfter.
	DisableOnError bool
	RetryAfter     time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		JoinCodeTTL:    DefaultJoinCodeTTL,
		DisableOnError: true,
		RetryAfter:     30 * time.Second,
	}
}

// Cache provides Redis-backed caching with graceful fallback. Every miss,
// error or open breaker reads as "not cached".
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu            sync.RWMutex
	disabledUntil time.Time
}

// New creates a cache. An unreachable Redis yields a cache that always
// misses, not an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.JoinCodeTTL <= 0 {
		cfg.JoinCodeTTL = DefaultJoinCodeTTL
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	c := &Cache{
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return c
	}

	c.client = client
	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return c
}

// NewWithClient wraps an existing client. Used by tests and by callers that
// share one Redis pool.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.JoinCodeTTL <= 0 {
		cfg.JoinCodeTTL = DefaultJoinCodeTTL
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c.client == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Before(c.disabledUntil)
}

// handleError trips the breaker on real Redis errors.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	telemetry.CacheOperations.WithLabelValues("error").Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabledUntil = c.now().Add(c.config.RetryAfter)
		c.mu.Unlock()
		c.logger.Warn().Dur("retry_after", c.config.RetryAfter).Msg("disabling cache due to Redis error")
	}
}

func joinCodeKey(code string) string {
	return KeyJoinCode + strings.ToUpper(strings.TrimSpace(code))
}

// LookupJoinCode returns the session id cached for code.
func (c *Cache) LookupJoinCode(ctx context.Context, code string) (string, bool) {
	if !c.IsAvailable() {
		return "", false
	}
	id, err := c.client.Get(ctx, joinCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperations.WithLabelValues("miss").Inc()
		return "", false
	}
	if err != nil {
		c.handleError(err, "get")
		return "", false
	}
	telemetry.CacheOperations.WithLabelValues("hit").Inc()
	return id, true
}

// StoreJoinCode caches code -> sessionID.
func (c *Cache) StoreJoinCode(ctx context.Context, code, sessionID string) {
	if !c.IsAvailable() {
		return
	}
	if err := c.client.Set(ctx, joinCodeKey(code), sessionID, c.config.JoinCodeTTL).Err(); err != nil {
		c.handleError(err, "set")
	}
}

// ForgetJoinCode drops a cached code, e.g. once its session finished.
func (c *Cache) ForgetJoinCode(ctx context.Context, code string) {
	if !c.IsAvailable() {
		return
	}
	if err := c.client.Del(ctx, joinCodeKey(code)).Err(); err != nil {
		c.handleError(err, "delete")
	}
}
