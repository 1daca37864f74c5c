/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisChannelPrefix = "listenparty:events:"

// RedisBus implements a Redis-backed event bus for multi-instance deployments.
// Local subscribers are always served by the in-process bus; Redis carries
// events between nodes.
type RedisBus struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	logger  zerolog.Logger
	local   *events.Bus
	limiter *events.Limiter
	nodeID  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int
	lastCheck   time.Time
	checkEvery  time.Duration
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PublishTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration

	Limiter *events.Limiter
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           "localhost:6379",
		PoolSize:       10,
		MinIdleConns:   2,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PublishTimeout: 2 * time.Second,
		MaxFailures:    5,
		CheckInterval:  30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus.
// Falls back to the in-memory bus if Redis is unavailable.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	rb := &RedisBus{
		logger:     logger.With().Str("component", "redis_bus").Logger(),
		local:      newLocalBus(),
		limiter:    cfg.Limiter,
		nodeID:     nodeID,
		maxFails:   cfg.MaxFailures,
		checkEvery: cfg.CheckInterval,
		ctx:        ctx,
		cancel:     cancel,
	}

	rb.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	} else {
		rb.startReceiver()
		rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bus initialized")
	}

	rb.wg.Add(1)
	go rb.healthLoop()

	return rb
}

func (rb *RedisBus) startReceiver() {
	rb.pubsub = rb.client.PSubscribe(rb.ctx, redisChannelPrefix+"*")
	rb.wg.Add(1)
	go rb.receiveMessages(rb.pubsub)
}

// receiveMessages handles incoming Redis pub/sub messages.
func (rb *RedisBus) receiveMessages(pubsub *redis.PubSub) {
	defer rb.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis channel closed")
				rb.handleFailure()
				return
			}

			env, err := unmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to unmarshal Redis message")
				continue
			}

			// Skip messages from ourselves (prevent echo)
			if env.NodeID == rb.nodeID {
				continue
			}

			ev, err := env.Decode()
			if err != nil {
				rb.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
				continue
			}
			rb.local.Deliver(strings.TrimPrefix(msg.Channel, redisChannelPrefix), ev)
		}
	}
}

// Subscribe registers a local handler for an event type in a session.
func (rb *RedisBus) Subscribe(sessionID string, eventType events.EventType, h events.Handler) func() {
	return rb.local.Subscribe(sessionID, eventType, h)
}

// SubscribeAll registers a local handler for every event in a session.
func (rb *RedisBus) SubscribeAll(sessionID string, h events.Handler) func() {
	return rb.local.SubscribeAll(sessionID, h)
}

// Publish delivers locally and forwards the event to other nodes.
func (rb *RedisBus) Publish(ctx context.Context, sessionID string, ev events.Event) events.DeliveryStatus {
	if ev == nil {
		return events.StatusError
	}
	if rb.limiter != nil && !rb.limiter.Allow(sessionID) {
		return record(ev, events.StatusRateLimited)
	}
	if ctx.Err() != nil {
		return record(ev, events.StatusTimeout)
	}
	rb.local.Deliver(sessionID, ev)

	rb.mu.Lock()
	fallback := rb.useFallback
	rb.mu.Unlock()
	if fallback {
		return record(ev, events.StatusOK)
	}

	data, err := marshalEnvelope(sessionID, rb.nodeID, ev)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal Redis message")
		return record(ev, events.StatusError)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(pubCtx, redisChannelPrefix+sessionID, data).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("failed to publish to Redis")
		rb.handleFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return record(ev, events.StatusTimeout)
		}
		return record(ev, events.StatusError)
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()

	rb.logger.Debug().
		Str("event_type", string(ev.Type())).
		Str("session_id", sessionID).
		Msg("published event to Redis")
	return record(ev, events.StatusOK)
}

// Close closes the Redis connection and all subscriptions.
func (rb *RedisBus) Close() error {
	rb.logger.Info().Msg("closing Redis event bus")
	rb.cancel()
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
	rb.wg.Wait()
	_ = rb.local.Close()

	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	return nil
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

func (rb *RedisBus) healthLoop() {
	defer rb.wg.Done()
	if rb.checkEvery <= 0 {
		rb.checkEvery = 30 * time.Second
	}
	ticker := time.NewTicker(rb.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case <-ticker.C:
			if err := rb.tryReconnect(); err != nil {
				rb.logger.Debug().Err(err).Msg("Redis still in fallback")
			}
		}
	}
}

// tryReconnect re-enables Redis once it answers pings again.
func (rb *RedisBus) tryReconnect() error {
	rb.mu.Lock()
	if !rb.useFallback {
		rb.mu.Unlock()
		return nil
	}
	if time.Since(rb.lastCheck) < rb.checkEvery {
		rb.mu.Unlock()
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()
	rb.mu.Unlock()

	ctx, cancel := context.WithTimeout(rb.ctx, 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.mu.Lock()
	rb.useFallback = false
	rb.failCount = 0
	rb.mu.Unlock()

	if rb.pubsub == nil {
		rb.startReceiver()
	}
	rb.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return nil
}

func record(ev events.Event, status events.DeliveryStatus) events.DeliveryStatus {
	telemetry.EventsPublished.WithLabelValues(string(ev.Type()), string(status)).Inc()
	return status
}
