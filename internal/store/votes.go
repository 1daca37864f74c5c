/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/google/uuid"
)

// InsertScore records a rating. A second rating of the same song by the same
// participant fails with ErrDuplicate.
func (s *Store) InsertScore(ctx context.Context, score *models.Score) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(score).Error; err != nil {
		return normalize(err)
	}
	s.record(TableScores, OpInsert, score.SessionID, score, nil)
	return nil
}

// FindScore returns a participant's rating of a song.
func (s *Store) FindScore(ctx context.Context, songID, participantID string) (*models.Score, error) {
	var score models.Score
	if err := s.db.WithContext(ctx).First(&score, "song_id = ? AND participant_id = ?", songID, participantID).Error; err != nil {
		return nil, normalize(err)
	}
	return &score, nil
}

// ListScores returns every rating in a session.
func (s *Store) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	var out []models.Score
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&out).Error
	return out, normalize(err)
}

// SongStats derives the rating aggregate of one song.
func (s *Store) SongStats(ctx context.Context, songID string) (models.SongStats, error) {
	var row struct {
		Average float64
		Count   int
	}
	err := s.db.WithContext(ctx).Model(&models.Score{}).
		Select("COALESCE(AVG(rating), 0) AS average, COUNT(*) AS count").
		Where("song_id = ?", songID).
		Scan(&row).Error
	return models.SongStats{SongID: songID, Average: row.Average, Count: row.Count}, normalize(err)
}

// SessionSongStats derives aggregates for every rated song of a session.
func (s *Store) SessionSongStats(ctx context.Context, sessionID string) (map[string]models.SongStats, error) {
	var rows []models.SongStats
	err := s.db.WithContext(ctx).Model(&models.Score{}).
		Select("song_id, AVG(rating) AS average, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("song_id").
		Scan(&rows).Error
	if err != nil {
		return nil, normalize(err)
	}
	out := make(map[string]models.SongStats, len(rows))
	for _, r := range rows {
		out[r.SongID] = r
	}
	return out, nil
}

// InsertSkipVote records a skip vote; a repeat vote fails with ErrDuplicate.
func (s *Store) InsertSkipVote(ctx context.Context, vote *models.SkipVote) error {
	if vote.ID == "" {
		vote.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(vote).Error; err != nil {
		return normalize(err)
	}
	s.record(TableSkipVotes, OpInsert, vote.SessionID, vote, nil)
	return nil
}

// DeleteSkipVote retracts a vote. It returns the removed row, or nil when
// there was nothing to remove.
func (s *Store) DeleteSkipVote(ctx context.Context, sessionID, songID, participantID string) (*models.SkipVote, error) {
	var removed *models.SkipVote
	err := s.WithTx(ctx, func(tx *Store) error {
		var vote models.SkipVote
		err := tx.db.WithContext(ctx).
			First(&vote, "session_id = ? AND song_id = ? AND participant_id = ?", sessionID, songID, participantID).Error
		if err != nil {
			if errors.Is(normalize(err), ErrNotFound) {
				return nil
			}
			return err
		}
		if err := tx.db.WithContext(ctx).Delete(&models.SkipVote{}, "id = ?", vote.ID).Error; err != nil {
			return err
		}
		removed = &vote
		tx.record(TableSkipVotes, OpDelete, sessionID, nil, &vote)
		return nil
	})
	return removed, err
}

// ListSkipVotes returns the votes against one song.
func (s *Store) ListSkipVotes(ctx context.Context, sessionID, songID string) ([]models.SkipVote, error) {
	var out []models.SkipVote
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND song_id = ?", sessionID, songID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, normalize(err)
}

// InsertReaction records an emoji reaction.
func (s *Store) InsertReaction(ctx context.Context, r *models.Reaction) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return normalize(err)
	}
	s.record(TableReactions, OpInsert, r.SessionID, r, nil)
	return nil
}

// DeleteReaction removes an emoji reaction and reports whether one existed.
func (s *Store) DeleteReaction(ctx context.Context, sessionID, songID, participantID, emoji string) (bool, error) {
	found := false
	err := s.WithTx(ctx, func(tx *Store) error {
		var r models.Reaction
		err := tx.db.WithContext(ctx).
			First(&r, "session_id = ? AND song_id = ? AND participant_id = ? AND emoji = ?", sessionID, songID, participantID, emoji).Error
		if err != nil {
			if errors.Is(normalize(err), ErrNotFound) {
				return nil
			}
			return err
		}
		if err := tx.db.WithContext(ctx).Delete(&models.Reaction{}, "id = ?", r.ID).Error; err != nil {
			return err
		}
		found = true
		tx.record(TableReactions, OpDelete, sessionID, nil, &r)
		return nil
	})
	return found, err
}

// ListReactions returns the reactions on one song.
func (s *Store) ListReactions(ctx context.Context, sessionID, songID string) ([]models.Reaction, error) {
	var out []models.Reaction
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND song_id = ?", sessionID, songID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, normalize(err)
}

// InsertChat stores a chat message.
func (s *Store) InsertChat(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return normalize(err)
	}
	s.record(TableChat, OpInsert, msg.SessionID, msg, nil)
	return nil
}

// ListChat returns the most recent limit messages, oldest first.
func (s *Store) ListChat(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, normalize(err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
