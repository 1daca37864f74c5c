/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive writes the results of finished sessions to object storage
// so their rows can be deleted later.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/rs/zerolog"
)

// DocumentVersion is bumped whenever Document changes shape.
const DocumentVersion = 1

// SongResult is a queued song with its rating aggregate.
type SongResult struct {
	models.Song
	Stats models.SongStats `json:"stats"`
}

// Document is the archived form of a session.
type Document struct {
	Version      int                  `json:"version"`
	ArchivedAt   time.Time            `json:"archived_at"`
	Session      models.Session       `json:"session"`
	Participants []models.Participant `json:"participants"`
	Songs        []SongResult         `json:"songs"`
	Karma        []models.KarmaEntry  `json:"karma"`
	Chat         []models.ChatMessage `json:"chat"`
}

// Key is the object key of a session's document.
func Key(sess *models.Session) string {
	return fmt.Sprintf("sessions/%s/%s.json", sess.CreatedAt.UTC().Format("2006/01"), sess.ID)
}

// Archiver builds documents from the store and writes them out.
type Archiver struct {
	st      *store.Store
	objects ObjectStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewArchiver creates an archiver.
func NewArchiver(st *store.Store, objects ObjectStore, logger zerolog.Logger) *Archiver {
	return &Archiver{
		st:      st,
		objects: objects,
		logger:  logger.With().Str("component", "archiver").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the document for a session.
func (a *Archiver) Build(ctx context.Context, sessionID string) (*Document, error) {
	sess, err := a.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	doc := &Document{Version: DocumentVersion, ArchivedAt: a.now(), Session: *sess}
	if doc.Participants, err = a.st.ListParticipants(ctx, sessionID); err != nil {
		return nil, err
	}
	songs, err := a.st.ListSongs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stats, err := a.st.SessionSongStats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, song := range songs {
		st, ok := stats[song.ID]
		if !ok {
			st = models.SongStats{SongID: song.ID}
		}
		doc.Songs = append(doc.Songs, SongResult{Song: song, Stats: st})
	}
	if doc.Karma, err = a.st.ListKarma(ctx, sessionID); err != nil {
		return nil, err
	}
	if doc.Chat, err = a.st.ListChat(ctx, sessionID, 1000); err != nil {
		return nil, err
	}
	return doc, nil
}

// Archive writes the session document and stamps the row as archived.
func (a *Archiver) Archive(ctx context.Context, sessionID string) error {
	doc, err := a.Build(ctx, sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	key := Key(&doc.Session)
	if err := a.objects.Put(ctx, key, data); err != nil {
		return err
	}
	if err := a.st.MarkArchived(ctx, sessionID, doc.ArchivedAt); err != nil {
		return err
	}
	a.logger.Info().Str("session_id", sessionID).Str("key", key).Msg("session archived")
	return nil
}

// Load reads an archived document back.
func (a *Archiver) Load(ctx context.Context, sess *models.Session) (*Document, error) {
	data, err := a.objects.Get(ctx, Key(sess))
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return &doc, nil
}
