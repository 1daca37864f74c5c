/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// DeliveryStatus is the best-effort acknowledgment of a publish.
// Anything but StatusOK is informational; the store write that preceded
// the publish remains the durable fact.
type DeliveryStatus string

const (
	StatusOK          DeliveryStatus = "ok"
	StatusTimeout     DeliveryStatus = "timeout"
	StatusRateLimited DeliveryStatus = "rate_limited"
	StatusError       DeliveryStatus = "error"
)

// Handler receives one event for a session.
type Handler func(sessionID string, ev Event)

// Publisher fans an event out to every subscriber of the session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, ev Event) DeliveryStatus
}

// Subscriber registers handlers. The returned func unsubscribes.
type Subscriber interface {
	Subscribe(sessionID string, eventType EventType, h Handler) func()
	SubscribeAll(sessionID string, h Handler) func()
}

// Broker is a full ephemeral bus.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

const subscriptionBuffer = 64

type subscription struct {
	id        uint64
	eventType EventType // empty matches every type
	ch        chan Event
	once      sync.Once
}

// Bus implements a simple in-process, session-scoped pubsub.
// Each subscription has its own goroutine so events of one type from one
// publisher are delivered in order. A full subscription buffer drops.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]*subscription
	nextID  uint64
	limiter *Limiter
	dropped func(sessionID string, eventType EventType)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLimiter rate limits publishes per session.
func WithLimiter(l *Limiter) BusOption {
	return func(b *Bus) { b.limiter = l }
}

// WithDropHook is called whenever a full subscriber buffer drops an event.
func WithDropHook(fn func(sessionID string, eventType EventType)) BusOption {
	return func(b *Bus) { b.dropped = fn }
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[string]map[uint64]*subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type in a session.
func (b *Bus) Subscribe(sessionID string, eventType EventType, h Handler) func() {
	return b.add(sessionID, eventType, h)
}

// SubscribeAll registers a handler for every event in a session.
func (b *Bus) SubscribeAll(sessionID string, h Handler) func() {
	return b.add(sessionID, "", h)
}

func (b *Bus) add(sessionID string, eventType EventType, h Handler) func() {
	sub := &subscription{eventType: eventType, ch: make(chan Event, subscriptionBuffer)}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]*subscription)
	}
	b.subs[sessionID][sub.id] = sub
	b.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			h(sessionID, ev)
		}
	}()

	return func() { b.remove(sessionID, sub) }
}

func (b *Bus) remove(sessionID string, sub *subscription) {
	b.mu.Lock()
	if subs, ok := b.subs[sessionID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, sessionID)
		}
	}
	b.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish sends the event to local subscribers after the rate limit check.
func (b *Bus) Publish(ctx context.Context, sessionID string, ev Event) DeliveryStatus {
	if ev == nil {
		return StatusError
	}
	if b.limiter != nil && !b.limiter.Allow(sessionID) {
		return StatusRateLimited
	}
	if err := ctx.Err(); err != nil {
		return StatusTimeout
	}
	b.Deliver(sessionID, ev)
	return StatusOK
}

// Deliver hands the event to local subscribers without rate limiting.
// Transports use it for events received from other nodes.
func (b *Bus) Deliver(sessionID string, ev Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs[sessionID]))
	for _, sub := range b.subs[sessionID] {
		if sub.eventType == "" || sub.eventType == ev.Type() {
			targets = append(targets, sub)
		}
	}
	// Sends happen under the read lock so remove cannot close a channel mid-send.
	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			if b.dropped != nil {
				b.dropped(sessionID, ev.Type())
			}
		}
	}
	b.mu.RUnlock()
}

// SubscriberCount returns the number of subscriptions for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Close drops every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string]map[uint64]*subscription)
	b.mu.Unlock()
	for _, subs := range all {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	return nil
}

// Limiter applies a token bucket per session.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	sessions map[string]*rate.Limiter
}

// NewLimiter allows perSecond events per session with the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		sessions: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the session may publish now.
func (l *Limiter) Allow(sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.sessions[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.sessions[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget releases the bucket of a finished session.
func (l *Limiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}
