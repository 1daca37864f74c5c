/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"strings"
	"time"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/google/uuid"
)

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.JoinCode = strings.ToUpper(sess.JoinCode)
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return normalize(err)
	}
	s.record(TableSessions, OpInsert, sess.ID, sess, nil)
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, normalize(err)
	}
	return &sess, nil
}

// LockSession loads a session and holds a row lock until the surrounding
// transaction ends. Outside WithTx it behaves like GetSession.
func (s *Store) LockSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.forUpdate(s.db.WithContext(ctx)).First(&sess, "id = ?", id).Error; err != nil {
		return nil, normalize(err)
	}
	return &sess, nil
}

// FindSessionByCode looks a session up by join code, ignoring case.
func (s *Store) FindSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("join_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&sess).Error
	if err != nil {
		return nil, normalize(err)
	}
	return &sess, nil
}

// JoinCodeTaken reports whether a join code is already assigned.
func (s *Store) JoinCodeTaken(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("join_code = ?", strings.ToUpper(code)).
		Count(&count).Error
	return count > 0, normalize(err)
}

// UpdateSession applies column updates and reloads sess in place.
func (s *Store) UpdateSession(ctx context.Context, sess *models.Session, updates map[string]any) error {
	old := *sess
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
		return normalize(err)
	}
	if err := s.db.WithContext(ctx).First(sess, "id = ?", sess.ID).Error; err != nil {
		return normalize(err)
	}
	s.record(TableSessions, OpUpdate, sess.ID, sess, &old)
	return nil
}

// TouchSession stamps last activity without emitting a change.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	return normalize(s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		UpdateColumn("last_activity_at", at).Error)
}

// ListExpiredSessions returns unfinished sessions whose expiry has passed.
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("status <> ? AND expires_at < ?", models.StatusFinished, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, normalize(err)
}

// ListUnarchivedFinished returns finished sessions not yet archived.
func (s *Store) ListUnarchivedFinished(ctx context.Context, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("status = ? AND archived_at IS NULL", models.StatusFinished).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, normalize(err)
}

// ListArchivedBefore returns archived sessions older than cutoff.
func (s *Store) ListArchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("archived_at IS NOT NULL AND archived_at < ?", cutoff).
		Limit(limit).
		Find(&sessions).Error
	return sessions, normalize(err)
}

// MarkArchived stamps archived_at.
func (s *Store) MarkArchived(ctx context.Context, id string, at time.Time) error {
	return normalize(s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		UpdateColumn("archived_at", at).Error)
}

// DeleteSession removes a session and every row that belongs to it.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		sess, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		for _, model := range []any{
			&models.Score{},
			&models.SkipVote{},
			&models.Reaction{},
			&models.ChatMessage{},
			&models.KarmaEntry{},
			&models.Song{},
			&models.Participant{},
		} {
			if err := tx.db.WithContext(ctx).Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", id).Error; err != nil {
			return err
		}
		tx.record(TableSessions, OpDelete, id, nil, sess)
		return nil
	})
}
