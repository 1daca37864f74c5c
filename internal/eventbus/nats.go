/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const natsSubjectPrefix = "listenparty.events."

// NATSBus implements a NATS-backed event bus. Like RedisBus it serves local
// subscribers from an in-process bus and relays to peers over NATS subjects
// named listenparty.events.<session>.
type NATSBus struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	logger  zerolog.Logger
	local   *events.Bus
	limiter *events.Limiter
	nodeID  string

	connected atomic.Bool
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Limiter *events.Limiter
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS. A failed initial connect is returned to the
// caller, which decides whether to fall back to the in-memory bus.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		logger:  logger.With().Str("component", "nats_bus").Logger(),
		local:   newLocalBus(),
		limiter: cfg.Limiter,
		nodeID:  nodeID,
	}

	opts := []nats.Option{
		nats.Name("listenparty-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.connected.Store(false)
			nb.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.connected.Store(true)
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		_ = nb.local.Close()
		return nil, err
	}
	nb.conn = conn
	nb.connected.Store(true)

	sub, err := conn.Subscribe(natsSubjectPrefix+">", nb.receive)
	if err != nil {
		conn.Close()
		_ = nb.local.Close()
		return nil, err
	}
	nb.sub = sub

	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event bus initialized")
	return nb, nil
}

func (nb *NATSBus) receive(msg *nats.Msg) {
	env, err := unmarshalEnvelope(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}
	if env.NodeID == nb.nodeID {
		return
	}
	ev, err := env.Decode()
	if err != nil {
		nb.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping undecodable event")
		return
	}
	nb.local.Deliver(strings.TrimPrefix(msg.Subject, natsSubjectPrefix), ev)
}

// Subscribe registers a local handler for an event type in a session.
func (nb *NATSBus) Subscribe(sessionID string, eventType events.EventType, h events.Handler) func() {
	return nb.local.Subscribe(sessionID, eventType, h)
}

// SubscribeAll registers a local handler for every event in a session.
func (nb *NATSBus) SubscribeAll(sessionID string, h events.Handler) func() {
	return nb.local.SubscribeAll(sessionID, h)
}

// Publish delivers locally and relays the event to peers. While the
// connection is reconnecting the NATS client buffers outgoing messages.
func (nb *NATSBus) Publish(ctx context.Context, sessionID string, ev events.Event) events.DeliveryStatus {
	if ev == nil {
		return events.StatusError
	}
	if nb.limiter != nil && !nb.limiter.Allow(sessionID) {
		return record(ev, events.StatusRateLimited)
	}
	if ctx.Err() != nil {
		return record(ev, events.StatusTimeout)
	}
	nb.local.Deliver(sessionID, ev)

	data, err := marshalEnvelope(sessionID, nb.nodeID, ev)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return record(ev, events.StatusError)
	}
	if err := nb.conn.Publish(natsSubjectPrefix+sessionID, data); err != nil {
		nb.logger.Warn().Err(err).Str("event_type", string(ev.Type())).Msg("failed to publish to NATS")
		if errors.Is(err, nats.ErrTimeout) {
			return record(ev, events.StatusTimeout)
		}
		return record(ev, events.StatusError)
	}
	return record(ev, events.StatusOK)
}

// Connected reports whether the NATS connection is currently up.
func (nb *NATSBus) Connected() bool {
	return nb.connected.Load()
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	nb.logger.Info().Msg("closing NATS event bus")
	var err error
	if nb.conn != nil {
		err = nb.conn.Drain()
	}
	_ = nb.local.Close()
	return err
}
