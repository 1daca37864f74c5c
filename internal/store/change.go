/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"encoding/json"
	"errors"
	"sync"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"

	// OpResync is sent after the feed lost notifications; subscribers should
	// refetch everything they hold.
	OpResync Op = "RESYNC"
)

// Table names carried in changes.
const (
	TableSessions     = "sessions"
	TableParticipants = "participants"
	TableSongs        = "songs"
	TableScores       = "scores"
	TableSkipVotes    = "skip_votes"
	TableReactions    = "reactions"
	TableChat         = "chat"
)

// Change describes one committed row write.
type Change struct {
	Table     string          `json:"table"`
	Op        Op              `json:"op"`
	SessionID string          `json:"session_id"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// Decode unmarshals the row image into v, preferring the new image.
func (c Change) Decode(v any) error {
	row := c.New
	if len(row) == 0 || string(row) == "null" {
		row = c.Old
	}
	if len(row) == 0 || string(row) == "null" {
		return errors.New("change carries no row")
	}
	return json.Unmarshal(row, v)
}

// ChangeFeed delivers committed changes. An empty table or session id
// subscribes to all of them.
type ChangeFeed interface {
	OnChange(table, sessionID string, cb func(Change)) (cancel func())
	Close() error
}

type feedSub struct {
	table     string
	sessionID string
	cb        func(Change)

	mu     sync.Mutex
	queue  []Change
	wake   chan struct{}
	closed bool
	once   sync.Once
}

func (f *feedSub) matches(c Change) bool {
	if c.Op == OpResync {
		return f.sessionID == "" || c.SessionID == "" || f.sessionID == c.SessionID
	}
	return (f.table == "" || f.table == c.Table) && (f.sessionID == "" || f.sessionID == c.SessionID)
}

func (f *feedSub) push(c Change) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, c)
	select {
	case f.wake <- struct{}{}:
	default:
	}
	f.mu.Unlock()
}

func (f *feedSub) run() {
	for range f.wake {
		for {
			f.mu.Lock()
			if f.closed || len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			c := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			f.cb(c)
		}
	}
}

func (f *feedSub) stop() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.queue = nil
		close(f.wake)
		f.mu.Unlock()
	})
}

// MemoryFeed is an in-process ChangeFeed. Changes are never dropped; each
// subscriber has an unbounded queue drained by its own goroutine, so
// callbacks see changes in commit order.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[uint64]*feedSub
	nextID uint64
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[uint64]*feedSub)}
}

// Emit implements Emitter.
func (m *MemoryFeed) Emit(c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if sub.matches(c) {
			sub.push(c)
		}
	}
}

// OnChange implements ChangeFeed.
func (m *MemoryFeed) OnChange(table, sessionID string, cb func(Change)) func() {
	sub := &feedSub{table: table, sessionID: sessionID, cb: cb, wake: make(chan struct{}, 1)}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = sub
	m.mu.Unlock()

	go sub.run()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.stop()
	}
}

// Close cancels every subscription.
func (m *MemoryFeed) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[uint64]*feedSub)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
	return nil
}
