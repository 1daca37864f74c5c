/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package janitor expires idle sessions, archives finished ones and
// eventually deletes their rows.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/listenparty/internal/leadership"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

// Archiver persists a finished session before its rows are dropped.
type Archiver interface {
	Archive(ctx context.Context, sessionID string) error
}

// Config tunes a janitor.
type Config struct {
	Interval       time.Duration
	RetainFinished time.Duration
	BatchSize      int
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithArchiver writes finished sessions to object storage. Without one
// sessions are only stamped as archived.
func WithArchiver(a Archiver) Option {
	return func(j *Janitor) { j.archiver = a }
}

// WithLeader restricts sweeps to the elected instance.
func WithLeader(l leadership.Leader) Option {
	return func(j *Janitor) { j.leader = l }
}

// WithJoinCodeCache drops cached codes of expired sessions.
func WithJoinCodeCache(c party.JoinCodeCache) Option {
	return func(j *Janitor) { j.codes = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// Janitor runs periodic session maintenance.
type Janitor struct {
	st       *store.Store
	ctrl     *party.Controller
	archiver Archiver
	leader   leadership.Leader
	codes    party.JoinCodeCache
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// Result counts what one sweep did.
type Result struct {
	Expired  int
	Archived int
	Deleted  int
}

// New creates a janitor.
func New(st *store.Store, ctrl *party.Controller, cfg Config, logger zerolog.Logger, opts ...Option) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	j := &Janitor{
		st:     st,
		ctrl:   ctrl,
		leader: leadership.Always{},
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "janitor").Logger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.logger.Info().Dur("interval", j.cfg.Interval).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if !j.leader.IsLeader() {
				continue
			}
			res := j.Sweep(ctx)
			if res.Expired+res.Archived+res.Deleted > 0 {
				j.logger.Info().
					Int("expired", res.Expired).
					Int("archived", res.Archived).
					Int("deleted", res.Deleted).
					Msg("janitor sweep")
			}
		}
	}
}

// Sweep runs one maintenance pass. Failures are logged per session and do
// not stop the pass.
func (j *Janitor) Sweep(ctx context.Context) Result {
	var res Result
	res.Expired = j.expire(ctx)
	res.Archived = j.archive(ctx)
	if j.cfg.RetainFinished > 0 {
		res.Deleted = j.purge(ctx)
	}
	return res
}

func (j *Janitor) expire(ctx context.Context) int {
	sessions, err := j.st.ListExpiredSessions(ctx, j.now(), j.cfg.BatchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("list expired sessions")
		telemetry.JanitorRuns.WithLabelValues("expire", "error").Inc()
		return 0
	}
	n := 0
	for _, sess := range sessions {
		if _, err := j.ctrl.Expire(ctx, sess.ID); err != nil && !errors.Is(err, party.ErrSessionNotFound) {
			j.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("expire session")
			telemetry.JanitorRuns.WithLabelValues("expire", "error").Inc()
			continue
		}
		if j.codes != nil {
			j.codes.ForgetJoinCode(ctx, sess.JoinCode)
		}
		telemetry.JanitorRuns.WithLabelValues("expire", "ok").Inc()
		n++
	}
	return n
}

func (j *Janitor) archive(ctx context.Context) int {
	sessions, err := j.st.ListUnarchivedFinished(ctx, j.cfg.BatchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("list finished sessions")
		telemetry.JanitorRuns.WithLabelValues("archive", "error").Inc()
		return 0
	}
	n := 0
	for _, sess := range sessions {
		if j.archiver != nil {
			err = j.archiver.Archive(ctx, sess.ID)
		} else {
			err = j.st.MarkArchived(ctx, sess.ID, j.now())
		}
		if err != nil {
			j.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("archive session")
			telemetry.JanitorRuns.WithLabelValues("archive", "error").Inc()
			continue
		}
		telemetry.JanitorRuns.WithLabelValues("archive", "ok").Inc()
		n++
	}
	return n
}

func (j *Janitor) purge(ctx context.Context) int {
	cutoff := j.now().Add(-j.cfg.RetainFinished)
	sessions, err := j.st.ListArchivedBefore(ctx, cutoff, j.cfg.BatchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("list archived sessions")
		telemetry.JanitorRuns.WithLabelValues("delete", "error").Inc()
		return 0
	}
	n := 0
	for _, sess := range sessions {
		if err := j.st.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			j.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("delete session")
			telemetry.JanitorRuns.WithLabelValues("delete", "error").Inc()
			continue
		}
		telemetry.JanitorRuns.WithLabelValues("delete", "ok").Inc()
		n++
	}
	return n
}
