/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presence tracks who is connected to a session right now. Nothing
// here is persisted.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultLeaveTimeout is how long a silent connection stays listed.
const DefaultLeaveTimeout = 30 * time.Second

// State is the presence payload for one user.
type State struct {
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	JoinedAt    time.Time `json:"joined_at"`
	IsHost      bool      `json:"is_host"`
	IsListening bool      `json:"is_listening"`
	LastActive  time.Time `json:"last_active"`
}

// Kind names a presence event.
type Kind string

const (
	KindSync  Kind = "sync"
	KindJoin  Kind = "join"
	KindLeave Kind = "leave"
)

// Event is delivered to OnChange callbacks. Sync carries the full list;
// join and leave carry the affected users.
type Event struct {
	Kind      Kind    `json:"kind"`
	SessionID string  `json:"session_id"`
	Entries   []State `json:"entries"`
}

type entry struct {
	state State
	seen  time.Time
}

// Tracker holds presence per session, keyed by connection so one user with
// two tabs stays present until both are gone.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]*entry
	subs     map[string]map[uint64]func(Event)
	outboxes map[string]*outbox
	nextID   uint64

	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewTracker creates a tracker. A zero timeout uses DefaultLeaveTimeout.
func NewTracker(timeout time.Duration, logger zerolog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultLeaveTimeout
	}
	return &Tracker{
		sessions: make(map[string]map[string]*entry),
		subs:     make(map[string]map[uint64]func(Event)),
		outboxes: make(map[string]*outbox),
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Track publishes or overwrites the state of a connection.
func (t *Tracker) Track(sessionID, connID string, st State) {
	now := t.now()
	if st.JoinedAt.IsZero() {
		st.JoinedAt = now
	}
	st.LastActive = now

	t.mu.Lock()
	conns := t.sessions[sessionID]
	if conns == nil {
		conns = make(map[string]*entry)
		t.sessions[sessionID] = conns
	}
	joined := !hasUser(conns, st.UserID, connID)
	if prev, ok := conns[connID]; ok && prev.state.UserID == st.UserID {
		joined = false
		st.JoinedAt = prev.state.JoinedAt
	}
	conns[connID] = &entry{state: st, seen: now}
	ob := t.enqueueLocked(sessionID, t.pendingLocked(sessionID, joinLeave(KindJoin, joined, st)))
	t.mu.Unlock()

	t.drain(sessionID, ob)
}

// Touch refreshes the liveness of a connection without changing its state.
func (t *Tracker) Touch(sessionID, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.sessions[sessionID][connID]; ok {
		e.seen = t.now()
	}
}

// Untrack removes a connection.
func (t *Tracker) Untrack(sessionID, connID string) {
	t.mu.Lock()
	conns := t.sessions[sessionID]
	e, ok := conns[connID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(conns, connID)
	left := !hasUser(conns, e.state.UserID, "")
	if len(conns) == 0 {
		delete(t.sessions, sessionID)
	}
	ob := t.enqueueLocked(sessionID, t.pendingLocked(sessionID, joinLeave(KindLeave, left, e.state)))
	t.mu.Unlock()

	t.drain(sessionID, ob)
}

// Sweep drops connections not seen within the leave timeout.
func (t *Tracker) Sweep(now time.Time) int {
	pending := make(map[string]*outbox)
	removed := 0

	t.mu.Lock()
	for sessionID, conns := range t.sessions {
		var gone []State
		for connID, e := range conns {
			if now.Sub(e.seen) > t.timeout {
				delete(conns, connID)
				removed++
				if !hasUser(conns, e.state.UserID, "") {
					gone = append(gone, e.state)
				}
			}
		}
		if len(gone) == 0 {
			continue
		}
		if len(conns) == 0 {
			delete(t.sessions, sessionID)
		}
		pending[sessionID] = t.enqueueLocked(sessionID, t.pendingLocked(sessionID, &Event{Kind: KindLeave, SessionID: sessionID, Entries: gone}))
	}
	t.mu.Unlock()

	for sessionID, ob := range pending {
		t.drain(sessionID, ob)
	}
	if removed > 0 {
		t.logger.Debug().Int("removed", removed).Msg("swept stale presence")
	}
	return removed
}

// Run sweeps on interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}

// List returns one state per user ordered by join time.
func (t *Tracker) List(sessionID string) []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(sessionID)
}

// OnChange subscribes to presence events of a session. The callback first
// receives a sync with the current list. Events reach every callback in the
// order the changes were made. Callbacks run on a goroutine that caused a
// change and should not block.
func (t *Tracker) OnChange(sessionID string, cb func(Event)) (cancel func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	if t.subs[sessionID] == nil {
		t.subs[sessionID] = make(map[uint64]func(Event))
	}
	t.subs[sessionID][id] = cb
	initial := Event{Kind: KindSync, SessionID: sessionID, Entries: t.listLocked(sessionID)}
	ob := t.enqueueLocked(sessionID, []delivery{{cb: cb, ev: initial}})
	t.mu.Unlock()

	t.drain(sessionID, ob)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if subs, ok := t.subs[sessionID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.subs, sessionID)
			}
		}
	}
}

type delivery struct {
	cb func(Event)
	ev Event
}

// pendingLocked builds the deliveries for a change: the join/leave event if
// any, followed by a full sync.
func (t *Tracker) pendingLocked(sessionID string, ev *Event) []delivery {
	list := t.listLocked(sessionID)
	telemetry.PresenceParticipants.WithLabelValues(sessionID).Set(float64(len(list)))
	if len(list) == 0 {
		telemetry.PresenceParticipants.DeleteLabelValues(sessionID)
	}

	subs := t.subs[sessionID]
	out := make([]delivery, 0, 2*len(subs))
	if ev != nil {
		ev.SessionID = sessionID
	}
	for _, cb := range subs {
		if ev != nil {
			out = append(out, delivery{cb: cb, ev: *ev})
		}
		out = append(out, delivery{cb: cb, ev: Event{Kind: KindSync, SessionID: sessionID, Entries: list}})
	}
	return out
}

// outbox queues the deliveries of one session. Whichever goroutine finds it
// idle delivers until it is empty, without holding t.mu.
type outbox struct {
	queue    []delivery
	draining bool
}

func (t *Tracker) enqueueLocked(sessionID string, ds []delivery) *outbox {
	ob := t.outboxes[sessionID]
	if ob == nil {
		ob = &outbox{}
		t.outboxes[sessionID] = ob
	}
	ob.queue = append(ob.queue, ds...)
	return ob
}

func (t *Tracker) drain(sessionID string, ob *outbox) {
	t.mu.Lock()
	if ob.draining {
		t.mu.Unlock()
		return
	}
	ob.draining = true
	for len(ob.queue) > 0 {
		batch := ob.queue
		ob.queue = nil
		t.mu.Unlock()
		for _, d := range batch {
			d.cb(d.ev)
		}
		t.mu.Lock()
	}
	ob.draining = false
	if len(t.sessions[sessionID]) == 0 && len(t.subs[sessionID]) == 0 && t.outboxes[sessionID] == ob {
		delete(t.outboxes, sessionID)
	}
	t.mu.Unlock()
}

func (t *Tracker) listLocked(sessionID string) []State {
	byUser := make(map[string]State)
	for _, e := range t.sessions[sessionID] {
		cur, ok := byUser[e.state.UserID]
		if !ok {
			byUser[e.state.UserID] = e.state
			continue
		}
		// Merge tabs: earliest join, latest activity, listening if any tab is.
		if e.state.JoinedAt.Before(cur.JoinedAt) {
			cur.JoinedAt = e.state.JoinedAt
		}
		if e.state.LastActive.After(cur.LastActive) {
			cur.LastActive = e.state.LastActive
		}
		cur.IsListening = cur.IsListening || e.state.IsListening
		byUser[e.state.UserID] = cur
	}
	return sortStates(byUser)
}

func sortStates(byUser map[string]State) []State {
	out := make([]State, 0, len(byUser))
	for _, st := range byUser {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func hasUser(conns map[string]*entry, userID, exceptConn string) bool {
	for connID, e := range conns {
		if connID != exceptConn && e.state.UserID == userID {
			return true
		}
	}
	return false
}

func joinLeave(kind Kind, happened bool, st State) *Event {
	if !happened {
		return nil
	}
	return &Event{Kind: kind, Entries: []State{st}}
}
