/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SessionStatus enumerates the lifecycle states of a listening session.
type SessionStatus string

const (
	StatusWaiting  SessionStatus = "waiting"
	StatusPlaying  SessionStatus = "playing"
	StatusFinished SessionStatus = "finished"
)

// Session is one listening-party instance.
type Session struct {
	ID                   string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name                 string         `json:"name"`
	HostID               string         `gorm:"type:uuid;index" json:"host_id"`
	JoinCode             string         `gorm:"type:varchar(6);uniqueIndex" json:"join_code"`
	Status               SessionStatus  `gorm:"type:varchar(16);index" json:"status"`
	CurrentSongIndex     *int           `json:"current_song_index"`
	CurrentSongStartedAt *time.Time     `json:"current_song_started_at"`
	LastActivityAt       time.Time      `json:"last_activity_at"`
	ExpiresAt            time.Time      `gorm:"index" json:"expires_at"`
	Settings             map[string]any `gorm:"serializer:json" json:"settings,omitempty"`
	InfiniteMode         bool           `json:"infinite_mode"`
	MinQueueSize         int            `json:"min_queue_size"`
	MaxQueueSize         int            `json:"max_queue_size"`
	MaxParticipants      int            `json:"max_participants"`
	ArchivedAt           *time.Time     `json:"archived_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsPlaying reports whether a song is active.
func (s *Session) IsPlaying() bool {
	return s.Status == StatusPlaying && s.CurrentSongIndex != nil
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Participant is a member of a session.
type Participant struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID   string    `gorm:"type:uuid;index;uniqueIndex:idx_participant_user" json:"session_id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	UserID      *string   `gorm:"uniqueIndex:idx_participant_user" json:"user_id,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `gorm:"index" json:"joined_at"`
	Karma       int       `json:"karma"`
}

// Song is a queued track. Position orders the queue and is unique per session.
type Song struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID       string    `gorm:"type:uuid;uniqueIndex:idx_song_position" json:"session_id"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	AlbumArt        string    `json:"album_art,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Source          string    `gorm:"type:varchar(32)" json:"source"`
	SourceID        string    `gorm:"index" json:"source_id"`
	AddedBy         string    `gorm:"type:uuid;index" json:"added_by"`
	Position        int       `gorm:"uniqueIndex:idx_song_position" json:"position"`
	CreatedAt       time.Time `json:"created_at"`
}

// Score is one rating per (song, participant).
type Score struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string    `gorm:"type:uuid;index" json:"session_id"`
	SongID        string    `gorm:"type:uuid;uniqueIndex:idx_score_song_participant" json:"song_id"`
	ParticipantID string    `gorm:"type:uuid;uniqueIndex:idx_score_song_participant" json:"participant_id"`
	Rating        int       `json:"rating"`
	CreatedAt     time.Time `json:"created_at"`
}

// SkipVote records that a participant wants the current song skipped.
type SkipVote struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string    `gorm:"type:uuid;uniqueIndex:idx_skip_vote" json:"session_id"`
	SongID        string    `gorm:"type:uuid;uniqueIndex:idx_skip_vote" json:"song_id"`
	ParticipantID string    `gorm:"type:uuid;uniqueIndex:idx_skip_vote" json:"participant_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reaction is an emoji a participant attached to a song.
type Reaction struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string    `gorm:"type:uuid;uniqueIndex:idx_reaction" json:"session_id"`
	SongID        string    `gorm:"type:uuid;uniqueIndex:idx_reaction" json:"song_id"`
	ParticipantID string    `gorm:"type:uuid;uniqueIndex:idx_reaction" json:"participant_id"`
	Emoji         string    `gorm:"type:varchar(32);uniqueIndex:idx_reaction" json:"emoji"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatMessage is a chat line, optionally tied to the song playing when sent.
type ChatMessage struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string    `gorm:"type:uuid;index" json:"session_id"`
	SongID        *string   `gorm:"type:uuid" json:"song_id,omitempty"`
	ParticipantID string    `gorm:"type:uuid" json:"participant_id"`
	Message       string    `gorm:"type:text" json:"message"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides GORM table name.
func (ChatMessage) TableName() string {
	return "chat"
}

// KarmaEntry is one ledger line; Participant.Karma is the running sum.
type KarmaEntry struct {
	ID            string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     string    `gorm:"type:uuid;index" json:"session_id"`
	ParticipantID string    `gorm:"type:uuid;index" json:"participant_id"`
	Delta         int       `json:"delta"`
	Reason        string    `gorm:"type:varchar(32)" json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName overrides GORM table name.
func (KarmaEntry) TableName() string {
	return "karma_ledger"
}

// SongStats is the derived rating aggregate for a song.
type SongStats struct {
	SongID  string  `json:"song_id"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}
