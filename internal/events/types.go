/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates ephemeral event names. The set is closed.
type EventType string

const (
	EventScoreAdded      EventType = "score_added"
	EventSongAdded       EventType = "song_added"
	EventSongChanged     EventType = "song_changed"
	EventSessionStarted  EventType = "session_started"
	EventSessionEnded    EventType = "session_ended"
	EventSkipVoteAdded   EventType = "skip_vote_added"
	EventSkipVoteRemoved EventType = "skip_vote_removed"
	EventSongReaction    EventType = "song_reaction"
	EventChatMessage     EventType = "chat_message"
)

// AllEventTypes lists every event in the contract.
var AllEventTypes = []EventType{
	EventScoreAdded,
	EventSongAdded,
	EventSongChanged,
	EventSessionStarted,
	EventSessionEnded,
	EventSkipVoteAdded,
	EventSkipVoteRemoved,
	EventSongReaction,
	EventChatMessage,
}

// ErrUnknownEvent is returned when decoding an event outside the contract.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one variant of the ephemeral contract.
type Event interface {
	Type() EventType
}

// ScoreAdded announces a rating.
type ScoreAdded struct {
	ScoreID         string    `json:"score_id"`
	SongID          string    `json:"song_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Rating          int       `json:"rating"`
	Timestamp       time.Time `json:"timestamp"`
}

// SongAdded announces a queued song.
type SongAdded struct {
	SongID    string    `json:"song_id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	AddedBy   string    `json:"added_by"`
	Timestamp time.Time `json:"timestamp"`
}

// SongChanged announces a new current song.
type SongChanged struct {
	SessionID string    `json:"session_id"`
	SongID    string    `json:"song_id"`
	SongIndex int       `json:"song_index"`
	StartedAt time.Time `json:"started_at"`
	HostID    string    `json:"host_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStarted announces waiting -> playing.
type SessionStarted struct {
	SessionID   string    `json:"session_id"`
	HostID      string    `json:"host_id"`
	FirstSongID string    `json:"first_song_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionEnded announces the terminal transition.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	HostID    string    `json:"host_id"`
	Timestamp time.Time `json:"timestamp"`
}

// SkipVote is the payload shared by skip_vote_added and skip_vote_removed.
type SkipVote struct {
	SkipVoteID      string    `json:"skip_vote_id"`
	SongID          string    `json:"song_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Timestamp       time.Time `json:"timestamp"`
}

// SkipVoteAdded announces a new skip vote.
type SkipVoteAdded struct{ SkipVote }

// SkipVoteRemoved announces a retracted skip vote.
type SkipVoteRemoved struct{ SkipVote }

// SongReaction announces an emoji reaction.
type SongReaction struct {
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Emoji           string    `json:"emoji"`
	Timestamp       time.Time `json:"timestamp"`
}

// ChatMessage announces a chat line.
type ChatMessage struct {
	ID              string    `json:"id"`
	SongID          string    `json:"song_id"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

func (ScoreAdded) Type() EventType      { return EventScoreAdded }
func (SongAdded) Type() EventType       { return EventSongAdded }
func (SongChanged) Type() EventType     { return EventSongChanged }
func (SessionStarted) Type() EventType  { return EventSessionStarted }
func (SessionEnded) Type() EventType    { return EventSessionEnded }
func (SkipVoteAdded) Type() EventType   { return EventSkipVoteAdded }
func (SkipVoteRemoved) Type() EventType { return EventSkipVoteRemoved }
func (SongReaction) Type() EventType    { return EventSongReaction }
func (ChatMessage) Type() EventType     { return EventChatMessage }

// Envelope is the wire form of an event.
type Envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	NodeID    string          `json:"node_id,omitempty"`
	MessageID string          `json:"message_id"`
	SentAt    time.Time       `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Wrap encodes an event for transport.
func Wrap(sessionID, nodeID string, ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.Type(), err)
	}
	return Envelope{
		Type:      ev.Type(),
		SessionID: sessionID,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
		SentAt:    time.Now().UTC(),
		Payload:   payload,
	}, nil
}

// Decode returns the typed variant carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Type {
	case EventScoreAdded:
		ev = &ScoreAdded{}
	case EventSongAdded:
		ev = &SongAdded{}
	case EventSongChanged:
		ev = &SongChanged{}
	case EventSessionStarted:
		ev = &SessionStarted{}
	case EventSessionEnded:
		ev = &SessionEnded{}
	case EventSkipVoteAdded:
		ev = &SkipVoteAdded{}
	case EventSkipVoteRemoved:
		ev = &SkipVoteRemoved{}
	case EventSongReaction:
		ev = &SongReaction{}
	case EventChatMessage:
		ev = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.Type, err)
	}
	return deref(ev), nil
}

// deref returns variants by value so handlers can type-switch on one form.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *ScoreAdded:
		return *v
	case *SongAdded:
		return *v
	case *SongChanged:
		return *v
	case *SessionStarted:
		return *v
	case *SessionEnded:
		return *v
	case *SkipVoteAdded:
		return *v
	case *SkipVoteRemoved:
		return *v
	case *SongReaction:
		return *v
	case *ChatMessage:
		return *v
	}
	return ev
}

// ParseEventTypes keeps the names that belong to the contract.
func ParseEventTypes(raw []string) []EventType {
	known := make(map[EventType]struct{}, len(AllEventTypes))
	for _, t := range AllEventTypes {
		known[t] = struct{}{}
	}
	out := make([]EventType, 0, len(raw))
	for _, r := range raw {
		t := EventType(r)
		if _, ok := known[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
