/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package party

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

// HostBonus is the karma credited to the host when a session finishes.
const HostBonus = 5

const tracerName = "listenparty/party"

// Controller owns the authoritative lifecycle transitions of a session:
// waiting -> playing -> finished. Every transition re-reads the session
// inside a transaction, so concurrent callers converge on one result.
type Controller struct {
	st     *store.Store
	pub    events.Publisher
	filler QueueFiller
	logger zerolog.Logger

	now func() time.Time

	rngMu sync.Mutex
	intn  func(n int) int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithQueueFiller replaces the infinite-mode strategy.
func WithQueueFiller(f QueueFiller) ControllerOption {
	return func(c *Controller) { c.filler = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithRandom overrides the random source used for shuffling; intn must
// return a value in [0, n).
func WithRandom(intn func(n int) int) ControllerOption {
	return func(c *Controller) { c.intn = intn }
}

// NewController creates a lifecycle controller.
func NewController(st *store.Store, pub events.Publisher, logger zerolog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		st:     st,
		pub:    pub,
		logger: logger.With().Str("component", "party_controller").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		intn:   rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.filler == nil {
		c.filler = NewRepeatPoolFiller(c.shuffle)
	}
	return c
}

// Start moves a waiting session to playing at index 0, optionally shuffling
// the queue first. Starting a session that is already playing is a no-op.
func (c *Controller) Start(ctx context.Context, sessionID, actorID string, shuffle bool) (*models.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "party.start")
	defer span.End()
	telemetry.SessionAttributes(span, sessionID, actorID)

	var (
		sess    *models.Session
		first   models.Song
		started bool
	)
	err := c.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		sess, err = c.lockForActor(ctx, tx, sessionID, actorID, true)
		if err != nil {
			return err
		}
		switch sess.Status {
		case models.StatusFinished:
			return ErrSessionFinished
		case models.StatusPlaying:
			return nil
		}

		songs, err := tx.ListSongs(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			return ErrEmptyQueue
		}
		if shuffle && len(songs) > 1 {
			c.shuffle(songs)
			ids := make([]string, len(songs))
			for i, s := range songs {
				ids[i] = s.ID
			}
			if err := tx.ReorderSongs(ctx, sessionID, ids); err != nil {
				return fmt.Errorf("shuffle queue: %w", err)
			}
		}

		now := c.now()
		if err := tx.UpdateSession(ctx, sess, map[string]any{
			"status":                  models.StatusPlaying,
			"current_song_index":      0,
			"current_song_started_at": now,
			"last_activity_at":        now,
		}); err != nil {
			return err
		}
		first = songs[0]
		started = true
		return nil
	})
	c.observe("start", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !started {
		c.logger.Debug().Str("session_id", sessionID).Msg("start ignored, already playing")
		return sess, nil
	}

	c.logger.Info().Str("session_id", sessionID).Bool("shuffle", shuffle).Msg("session started")
	now := *sess.CurrentSongStartedAt
	c.publish(ctx, sessionID, events.SessionStarted{
		SessionID:   sessionID,
		HostID:      sess.HostID,
		FirstSongID: first.ID,
		Timestamp:   now,
	})
	c.publish(ctx, sessionID, events.SongChanged{
		SessionID: sessionID,
		SongID:    first.ID,
		SongIndex: 0,
		StartedAt: now,
		HostID:    sess.HostID,
		Timestamp: now,
	})
	return sess, nil
}

// Advance moves past fromIndex. A caller whose fromIndex is no longer the
// current index lost a race and gets the session back unchanged. Past the
// end of the queue an infinite session refills; otherwise it finishes.
func (c *Controller) Advance(ctx context.Context, sessionID, actorID string, fromIndex int) (*models.Session, error) {
	return c.advance(ctx, sessionID, actorID, fromIndex, true)
}

// SongEnded is the host player's ended signal for songIndex.
func (c *Controller) SongEnded(ctx context.Context, sessionID, actorID string, songIndex int) (*models.Session, error) {
	return c.advance(ctx, sessionID, actorID, songIndex, true)
}

func (c *Controller) advance(ctx context.Context, sessionID, actorID string, fromIndex int, requireHost bool) (*models.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "party.advance")
	defer span.End()
	telemetry.SessionAttributes(span, sessionID, actorID)

	var (
		sess     *models.Session
		next     models.Song
		filled   []models.Song
		changed  bool
		finished bool
	)
	err := c.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		sess, err = c.lockForActor(ctx, tx, sessionID, actorID, requireHost)
		if err != nil {
			return err
		}
		if sess.Status == models.StatusFinished {
			return ErrSessionFinished
		}
		if sess.Status != models.StatusPlaying || sess.CurrentSongIndex == nil {
			return ErrNotPlaying
		}
		if *sess.CurrentSongIndex != fromIndex {
			return nil
		}

		songs, err := tx.ListSongs(ctx, sessionID)
		if err != nil {
			return err
		}
		idx := fromIndex + 1
		if idx >= len(songs) && sess.InfiniteMode {
			filled, err = c.filler.Fill(ctx, tx, sess, songs)
			if err != nil {
				return fmt.Errorf("fill queue: %w", err)
			}
			songs = append(songs, filled...)
		}

		now := c.now()
		if idx >= len(songs) {
			finished = true
			return c.finishLocked(ctx, tx, sess, now)
		}

		if err := tx.UpdateSession(ctx, sess, map[string]any{
			"current_song_index":      idx,
			"current_song_started_at": now,
			"last_activity_at":        now,
		}); err != nil {
			return err
		}
		next = songs[idx]
		changed = true
		return nil
	})
	if errors.Is(err, ErrSessionFinished) {
		c.logger.Debug().Str("session_id", sessionID).Int("from_index", fromIndex).Msg("advance on finished session ignored")
		c.observe("advance", nil)
		return sess, nil
	}
	c.observe("advance", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	for _, song := range filled {
		c.publish(ctx, sessionID, events.SongAdded{
			SongID:    song.ID,
			Title:     song.Title,
			Artist:    song.Artist,
			AddedBy:   song.AddedBy,
			Timestamp: song.CreatedAt,
		})
	}

	switch {
	case finished:
		c.announceEnd(ctx, sess)
	case changed:
		c.logger.Info().Str("session_id", sessionID).Int("song_index", *sess.CurrentSongIndex).Msg("advanced")
		c.publish(ctx, sessionID, events.SongChanged{
			SessionID: sessionID,
			SongID:    next.ID,
			SongIndex: *sess.CurrentSongIndex,
			StartedAt: *sess.CurrentSongStartedAt,
			HostID:    sess.HostID,
			Timestamp: *sess.CurrentSongStartedAt,
		})
	default:
		c.logger.Debug().Str("session_id", sessionID).Int("from_index", fromIndex).Msg("stale advance ignored")
	}
	return sess, nil
}

// Finish ends the session. Finishing a finished session is a no-op.
func (c *Controller) Finish(ctx context.Context, sessionID, actorID string) (*models.Session, error) {
	return c.finish(ctx, sessionID, actorID, true)
}

// Expire finishes a session on behalf of the system, without a host.
func (c *Controller) Expire(ctx context.Context, sessionID string) (*models.Session, error) {
	return c.finish(ctx, sessionID, "", false)
}

func (c *Controller) finish(ctx context.Context, sessionID, actorID string, requireHost bool) (*models.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "party.finish")
	defer span.End()
	telemetry.SessionAttributes(span, sessionID, actorID)

	var sess *models.Session
	err := c.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		sess, err = c.lockForActor(ctx, tx, sessionID, actorID, requireHost)
		if err != nil {
			return err
		}
		if sess.Status == models.StatusFinished {
			return ErrSessionFinished
		}
		return c.finishLocked(ctx, tx, sess, c.now())
	})
	if errors.Is(err, ErrSessionFinished) {
		c.observe("finish", nil)
		return sess, nil
	}
	c.observe("finish", err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	c.announceEnd(ctx, sess)
	return sess, nil
}

// finishLocked clears the playback pointer and settles the host bonus.
func (c *Controller) finishLocked(ctx context.Context, tx *store.Store, sess *models.Session, now time.Time) error {
	if err := tx.UpdateSession(ctx, sess, map[string]any{
		"status":                  models.StatusFinished,
		"current_song_index":      nil,
		"current_song_started_at": nil,
		"last_activity_at":        now,
	}); err != nil {
		return err
	}
	err := tx.CreditKarma(ctx, &models.KarmaEntry{
		SessionID:     sess.ID,
		ParticipantID: sess.HostID,
		Delta:         HostBonus,
		Reason:        "host_bonus",
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Controller) announceEnd(ctx context.Context, sess *models.Session) {
	c.logger.Info().Str("session_id", sess.ID).Msg("session finished")
	c.publish(ctx, sess.ID, events.SessionEnded{
		SessionID: sess.ID,
		HostID:    sess.HostID,
		Timestamp: sess.LastActivityAt,
	})
}

func (c *Controller) lockForActor(ctx context.Context, tx *store.Store, sessionID, actorID string, requireHost bool) (*models.Session, error) {
	sess, err := tx.LockSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if requireHost && sess.HostID != actorID {
		return nil, ErrNotHost
	}
	return sess, nil
}

// shuffle is an in-place Fisher-Yates permutation.
func (c *Controller) shuffle(songs []models.Song) {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	for i := len(songs) - 1; i > 0; i-- {
		j := c.intn(i + 1)
		songs[i], songs[j] = songs[j], songs[i]
	}
}

func (c *Controller) publish(ctx context.Context, sessionID string, ev events.Event) {
	publishEvent(ctx, c.pub, c.logger, sessionID, ev)
}

func (c *Controller) observe(transition string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrNotHost):
		result = "not_host"
	case err != nil:
		result = "error"
	}
	telemetry.SessionTransitions.WithLabelValues(transition, result).Inc()
}

func publishEvent(ctx context.Context, pub events.Publisher, logger zerolog.Logger, sessionID string, ev events.Event) {
	if pub == nil {
		return
	}
	if status := pub.Publish(ctx, sessionID, ev); status != events.StatusOK {
		logger.Warn().
			Str("session_id", sessionID).
			Str("event_type", string(ev.Type())).
			Str("status", string(status)).
			Msg("ephemeral publish not delivered, change feed will reconcile")
	}
}
