/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GenerateNodeID returns an identifier unique to this process, used to drop
// our own messages when they come back from the broker.
func GenerateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func newLocalBus(opts ...events.BusOption) *events.Bus {
	opts = append(opts, events.WithDropHook(func(_ string, eventType events.EventType) {
		telemetry.EventsDropped.WithLabelValues(string(eventType)).Inc()
	}))
	return events.NewBus(opts...)
}

// memoryBus is the single-node broker. It only adds publish metrics.
type memoryBus struct {
	*events.Bus
}

func (m memoryBus) Publish(ctx context.Context, sessionID string, ev events.Event) events.DeliveryStatus {
	status := m.Bus.Publish(ctx, sessionID, ev)
	if ev == nil {
		return status
	}
	return record(ev, status)
}

func marshalEnvelope(sessionID, nodeID string, ev events.Event) ([]byte, error) {
	env, err := events.Wrap(sessionID, nodeID, ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func unmarshalEnvelope(data []byte) (events.Envelope, error) {
	var env events.Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Kind selects an ephemeral transport.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindNATS   Kind = "nats"
)

// Options configures New.
type Options struct {
	Kind    Kind
	Redis   RedisConfig
	NATS    NATSConfig
	Limiter *events.Limiter
	NodeID  string
}

// New builds the broker selected by opts.Kind. A NATS connection failure
// falls back to the in-memory bus so a single node keeps working.
func New(opts Options, logger zerolog.Logger) events.Broker {
	if opts.NodeID == "" {
		opts.NodeID = GenerateNodeID()
	}
	switch opts.Kind {
	case KindRedis:
		opts.Redis.Limiter = opts.Limiter
		return NewRedisBus(opts.Redis, opts.NodeID, logger)
	case KindNATS:
		opts.NATS.Limiter = opts.Limiter
		nb, err := NewNATSBus(opts.NATS, opts.NodeID, logger)
		if err == nil {
			return nb
		}
		logger.Warn().Err(err).Msg("NATS unavailable, using in-memory event bus")
	}
	return memoryBus{Bus: newLocalBus(events.WithLimiter(opts.Limiter))}
}
