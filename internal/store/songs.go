/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/google/uuid"
)

// AppendSong inserts a song at the end of the queue. Callers lock the
// session row first so concurrent appends cannot claim the same position.
func (s *Store) AppendSong(ctx context.Context, song *models.Song) error {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	return s.WithTx(ctx, func(tx *Store) error {
		var last int64
		if err := tx.db.WithContext(ctx).Model(&models.Song{}).
			Select("COALESCE(MAX(position), -1)").
			Where("session_id = ?", song.SessionID).
			Row().Scan(&last); err != nil {
			return err
		}
		song.Position = int(last) + 1
		if err := tx.db.WithContext(ctx).Create(song).Error; err != nil {
			return normalize(err)
		}
		tx.record(TableSongs, OpInsert, song.SessionID, song, nil)
		return nil
	})
}

func (s *Store) GetSong(ctx context.Context, sessionID, id string) (*models.Song, error) {
	var song models.Song
	if err := s.db.WithContext(ctx).First(&song, "id = ? AND session_id = ?", id, sessionID).Error; err != nil {
		return nil, normalize(err)
	}
	return &song, nil
}

// ListSongs returns the queue in canonical (position) order.
func (s *Store) ListSongs(ctx context.Context, sessionID string) ([]models.Song, error) {
	var out []models.Song
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&out).Error
	return out, normalize(err)
}

// CountSongs returns the queue length.
func (s *Store) CountSongs(ctx context.Context, sessionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Song{}).Where("session_id = ?", sessionID).Count(&count).Error
	return int(count), normalize(err)
}

// FindSongBySource finds a queued song by catalog identity.
func (s *Store) FindSongBySource(ctx context.Context, sessionID, source, sourceID string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).
		First(&song, "session_id = ? AND source = ? AND source_id = ?", sessionID, source, sourceID).Error
	if err != nil {
		return nil, normalize(err)
	}
	return &song, nil
}

// DeleteSong removes a song with its votes, scores and reactions.
func (s *Store) DeleteSong(ctx context.Context, sessionID, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		song, err := tx.GetSong(ctx, sessionID, id)
		if err != nil {
			return err
		}
		for _, model := range []any{&models.Score{}, &models.SkipVote{}, &models.Reaction{}} {
			if err := tx.db.WithContext(ctx).Where("song_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.db.WithContext(ctx).Delete(&models.Song{}, "id = ?", id).Error; err != nil {
			return err
		}
		tx.record(TableSongs, OpDelete, sessionID, nil, song)
		return nil
	})
}

// ReorderSongs rewrites positions so the queue follows orderedIDs, which
// must name every song of the session exactly once. Positions pass through
// negative values first so the unique (session, position) index never sees
// two rows on one slot.
func (s *Store) ReorderSongs(ctx context.Context, sessionID string, orderedIDs []string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		current, err := tx.ListSongs(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(current) != len(orderedIDs) {
			return fmt.Errorf("reorder: got %d ids for %d songs", len(orderedIDs), len(current))
		}
		before := make(map[string]models.Song, len(current))
		for _, song := range current {
			before[song.ID] = song
		}
		seen := make(map[string]struct{}, len(orderedIDs))
		for _, id := range orderedIDs {
			if _, ok := before[id]; !ok {
				return fmt.Errorf("reorder: song %s not in session", id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("reorder: song %s listed twice", id)
			}
			seen[id] = struct{}{}
		}

		for i, id := range orderedIDs {
			if err := tx.db.WithContext(ctx).Model(&models.Song{}).Where("id = ?", id).Update("position", -(i + 1)).Error; err != nil {
				return err
			}
		}
		for i, id := range orderedIDs {
			if err := tx.db.WithContext(ctx).Model(&models.Song{}).Where("id = ?", id).Update("position", i).Error; err != nil {
				return err
			}
			old := before[id]
			if old.Position != i {
				updated := old
				updated.Position = i
				tx.record(TableSongs, OpUpdate, sessionID, &updated, &old)
			}
		}
		return nil
	})
}
