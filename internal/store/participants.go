/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"time"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateParticipant inserts a participant.
func (s *Store) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return normalize(err)
	}
	s.record(TableParticipants, OpInsert, p.SessionID, p, nil)
	return nil
}

// GetParticipant loads a participant of a session.
func (s *Store) GetParticipant(ctx context.Context, sessionID, id string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).First(&p, "id = ? AND session_id = ?", id, sessionID).Error; err != nil {
		return nil, normalize(err)
	}
	return &p, nil
}

// FindParticipantByUser finds the participant row for an identity.
func (s *Store) FindParticipantByUser(ctx context.Context, sessionID, userID string) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).First(&p, "session_id = ? AND user_id = ?", sessionID, userID).Error; err != nil {
		return nil, normalize(err)
	}
	return &p, nil
}

// ListParticipants returns participants in join order.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var out []models.Participant
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC, id ASC").
		Find(&out).Error
	return out, normalize(err)
}

// CountParticipants returns the participant count of a session.
func (s *Store) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Participant{}).Where("session_id = ?", sessionID).Count(&count).Error
	return int(count), normalize(err)
}

// CreditKarma appends a ledger entry and bumps the participant's running sum.
func (s *Store) CreditKarma(ctx context.Context, entry *models.KarmaEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}
		res := tx.db.WithContext(ctx).Model(&models.Participant{}).
			Where("id = ? AND session_id = ?", entry.ParticipantID, entry.SessionID).
			UpdateColumn("karma", gorm.Expr("karma + ?", entry.Delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		p, err := tx.GetParticipant(ctx, entry.SessionID, entry.ParticipantID)
		if err != nil {
			return err
		}
		tx.record(TableParticipants, OpUpdate, entry.SessionID, p, nil)
		return nil
	})
}

// ListKarma returns the ledger of a session, oldest first.
func (s *Store) ListKarma(ctx context.Context, sessionID string) ([]models.KarmaEntry, error) {
	var out []models.KarmaEntry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, normalize(err)
}
