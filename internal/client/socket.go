/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/listenparty/internal/api"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/store"
)

// Socket is a live session connection. It fans server frames out to local
// subscribers, so it serves as the replica's event source, change feed and
// presence source at once.
type Socket struct {
	conn      *ws.Conn
	sessionID string
	bus       *events.Bus
	feed      *store.MemoryFeed

	mu       sync.Mutex
	presence map[uint64]func(presence.Event)
	nextID   uint64

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Dial opens the session websocket with the client's token.
func (c *Client) Dial(ctx context.Context, sessionID string) (*Socket, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = sessionPath(sessionID, "ws")

	conn, _, err := ws.Dial(ctx, u.String(), &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.bearer()}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		conn:      conn,
		sessionID: sessionID,
		bus:       events.NewBus(),
		feed:      store.NewMemoryFeed(),
		presence:  make(map[uint64]func(presence.Event)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.readLoop(runCtx)
	return s, nil
}

func (s *Socket) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		var f api.Frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			s.err = err
			// Subscribers refetch once the socket is replaced.
			s.feed.Emit(store.Change{Op: store.OpResync, SessionID: s.sessionID})
			return
		}
		switch f.Type {
		case api.FrameEvent:
			if f.Event == nil {
				continue
			}
			ev, err := f.Event.Decode()
			if err != nil {
				continue
			}
			s.bus.Deliver(s.sessionID, ev)
		case api.FrameChange:
			if f.Change != nil {
				s.feed.Emit(*f.Change)
			}
		case api.FramePresence:
			if f.Presence != nil {
				s.dispatchPresence(*f.Presence)
			}
		case api.FramePing:
			_ = s.write(ctx, api.Frame{Type: api.FramePong})
		}
	}
}

func (s *Socket) write(ctx context.Context, f api.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, s.conn, f)
}

func (s *Socket) dispatchPresence(ev presence.Event) {
	s.mu.Lock()
	cbs := make([]func(presence.Event), 0, len(s.presence))
	for _, cb := range s.presence {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Subscribe registers a handler for one event type.
func (s *Socket) Subscribe(sessionID string, eventType events.EventType, h events.Handler) func() {
	return s.bus.Subscribe(sessionID, eventType, h)
}

// SubscribeAll registers a handler for every event.
func (s *Socket) SubscribeAll(sessionID string, h events.Handler) func() {
	return s.bus.SubscribeAll(sessionID, h)
}

// OnChange subscribes to committed changes relayed by the server.
func (s *Socket) OnChange(table, sessionID string, cb func(store.Change)) func() {
	return s.feed.OnChange(table, sessionID, cb)
}

// OnPresence subscribes to presence events.
func (s *Socket) OnPresence(cb func(presence.Event)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.presence[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.presence, id)
		s.mu.Unlock()
	}
}

// Track publishes this connection's presence.
func (s *Socket) Track(ctx context.Context, st presence.State) error {
	return s.write(ctx, api.Frame{Type: api.FramePresence, State: &st})
}

// Publish sends an ephemeral event through the server. The server relays
// only song reactions made by the connected participant.
func (s *Socket) Publish(ctx context.Context, sessionID string, ev events.Event) events.DeliveryStatus {
	env, err := events.Wrap(sessionID, "", ev)
	if err != nil {
		return events.StatusError
	}
	if err := s.write(ctx, api.Frame{Type: api.FramePublish, Event: &env}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return events.StatusTimeout
		}
		return events.StatusError
	}
	return events.StatusOK
}

// Done is closed when the connection drops.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the read loop.
func (s *Socket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close shuts the connection and every local subscription.
func (s *Socket) Close() error {
	s.cancel()
	err := s.conn.Close(ws.StatusNormalClosure, "")
	<-s.done
	_ = s.bus.Close()
	_ = s.feed.Close()
	return err
}
