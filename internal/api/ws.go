/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/telemetry"
)

// Frame types on the session websocket.
const (
	FrameEvent    = "event"    // server: ephemeral event; client: see FramePublish
	FrameChange   = "change"   // server: committed row change
	FramePresence = "presence" // server: presence event; client: own presence state
	FramePublish  = "publish"  // client: ephemeral event to fan out
	FramePing     = "ping"
	FramePong     = "pong"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type     string           `json:"type"`
	Event    *events.Envelope `json:"event,omitempty"`
	Change   *store.Change    `json:"change,omitempty"`
	Presence *presence.Event  `json:"presence,omitempty"`
	State    *presence.State  `json:"state,omitempty"`
}

const socketBuffer = 128

// Clients may only publish reactions. Every other event is emitted by the
// service once its row is committed, so a client copy could only be forged.
var clientEvents = map[events.EventType]bool{
	events.EventSongReaction: true,
}

func (a *API) handleSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	participant, err := a.svc.GetParticipant(r.Context(), sessionID, participantID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketConnections.Inc()
	defer telemetry.WebsocketConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	connID := uuid.NewString()
	logger := a.logger.With().Str("session_id", sessionID).Str("conn_id", connID).Logger()

	out := make(chan Frame, socketBuffer)
	send := func(f Frame) {
		select {
		case out <- f:
		default:
			logger.Warn().Str("frame", f.Type).Msg("websocket buffer full, dropping frame")
		}
	}

	unsubEvents := a.broker.SubscribeAll(sessionID, func(_ string, ev events.Event) {
		env, err := events.Wrap(sessionID, "", ev)
		if err != nil {
			return
		}
		send(Frame{Type: FrameEvent, Event: &env})
	})
	defer unsubEvents()

	if a.feed != nil {
		unsubFeed := a.feed.OnChange("", sessionID, func(c store.Change) {
			send(Frame{Type: FrameChange, Change: &c})
		})
		defer unsubFeed()
	}

	if a.presence != nil {
		unsubPresence := a.presence.OnChange(sessionID, func(ev presence.Event) {
			send(Frame{Type: FramePresence, Presence: &ev})
		})
		defer unsubPresence()
		defer a.presence.Untrack(sessionID, connID)
	}

	go func() {
		defer cancel()
		for {
			var f Frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				if ws.CloseStatus(err) == -1 && ctx.Err() == nil {
					logger.Debug().Err(err).Msg("websocket read ended")
				}
				return
			}
			a.handleClientFrame(ctx, sessionID, connID, participant.DisplayName, participant.IsHost, participantID, f)
		}
	}()

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, Frame{Type: FramePing}); err != nil {
				logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case f := <-out:
			if err := wsjson.Write(ctx, conn, f); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (a *API) handleClientFrame(ctx context.Context, sessionID, connID, name string, isHost bool, participantID string, f Frame) {
	switch f.Type {
	case FramePong:
		if a.presence != nil {
			a.presence.Touch(sessionID, connID)
		}
	case FramePresence:
		if a.presence == nil || f.State == nil {
			return
		}
		st := *f.State
		st.UserID = participantID
		st.UserName = name
		st.IsHost = isHost
		a.presence.Track(sessionID, connID, st)
	case FramePublish, FrameEvent:
		if f.Event == nil {
			return
		}
		ev, err := f.Event.Decode()
		if err != nil {
			a.logger.Debug().Err(err).Str("session_id", sessionID).Msg("dropping undecodable client event")
			return
		}
		reaction, ok := ev.(events.SongReaction)
		if !ok || !clientEvents[ev.Type()] {
			a.logger.Warn().Str("session_id", sessionID).Str("type", string(ev.Type())).Msg("client tried to publish a server event")
			return
		}
		if reaction.ParticipantID != participantID {
			a.logger.Warn().Str("session_id", sessionID).Str("participant_id", participantID).Msg("client event names another participant")
			return
		}
		reaction.ParticipantName = name
		if reaction.Timestamp.IsZero() {
			reaction.Timestamp = time.Now().UTC()
		}
		a.broker.Publish(ctx, sessionID, reaction)
	}
}
