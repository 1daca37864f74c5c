/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the record store adapter. Every committed write is
// reported as a Change so clients can reconcile against it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

// Emitter receives changes after commit. A nil Emitter is valid when the
// database publishes changes itself (postgres triggers).
type Emitter interface {
	Emit(Change)
}

// Store wraps gorm with the listening-party queries.
type Store struct {
	db      *gorm.DB
	emitter Emitter
	logger  zerolog.Logger

	// pending collects changes while inside WithTx.
	pending *[]Change
}

// New creates a store.
func New(db *gorm.DB, emitter Emitter, logger zerolog.Logger) *Store {
	return &Store{
		db:      db,
		emitter: emitter,
		logger:  logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn in a transaction. Changes recorded inside are emitted only
// after a successful commit. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pending != nil {
		return fn(s)
	}

	var pending []Change
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Store{db: gtx, emitter: s.emitter, logger: s.logger, pending: &pending})
	})
	if err != nil {
		return normalize(err)
	}
	for _, c := range pending {
		s.emit(c)
	}
	return nil
}

func (s *Store) record(table string, op Op, sessionID string, newRow, oldRow any) {
	c := Change{Table: table, Op: op, SessionID: sessionID}
	if newRow != nil {
		c.New = mustJSON(newRow)
	}
	if oldRow != nil {
		c.Old = mustJSON(oldRow)
	}
	if s.pending != nil {
		*s.pending = append(*s.pending, c)
		return
	}
	s.emit(c)
}

func (s *Store) emit(c Change) {
	telemetry.ChangesEmitted.WithLabelValues(c.Table, string(c.Op)).Inc()
	if s.emitter != nil {
		s.emitter.Emit(c)
	}
}

// forUpdate adds a row lock where the dialect supports one.
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// normalize maps driver errors onto the package sentinels.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if IsDuplicate(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// IsDuplicate reports whether err is a unique-constraint violation from any
// supported backend.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return false
}
