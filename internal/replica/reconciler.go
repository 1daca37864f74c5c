/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

// Loader reads canonical rows from the record store.
type Loader interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error)
	ListSongs(ctx context.Context, sessionID string) ([]models.Song, error)
	ListScores(ctx context.Context, sessionID string) ([]models.Score, error)
	ListSkipVotes(ctx context.Context, sessionID, songID string) ([]models.SkipVote, error)
	ListChat(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
}

const pendingLimit = 256

// Reconciler re-derives state from the record store whenever the change feed
// reports a committed write. Collections are refetched in canonical order;
// scores and chat are merged by id from the change payload.
type Reconciler struct {
	state  *State
	loader Loader
	logger zerolog.Logger

	mu    sync.Mutex
	queue []store.Change
	wake  chan struct{}
}

// NewReconciler creates a reconciler for state.
func NewReconciler(state *State, loader Loader, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		state:  state,
		loader: loader,
		logger: logger.With().Str("component", "reconciler").Str("session_id", state.SessionID()).Logger(),
		wake:   make(chan struct{}, 1),
	}
}

// Watch subscribes to the feed for this session. Changes queue up and are
// handled by Run in arrival order.
func (r *Reconciler) Watch(feed store.ChangeFeed) (cancel func()) {
	return feed.OnChange("", r.state.SessionID(), r.Enqueue)
}

// Enqueue schedules a change for Run. A backlog past pendingLimit collapses
// into one resync.
func (r *Reconciler) Enqueue(c store.Change) {
	r.mu.Lock()
	if len(r.queue) >= pendingLimit {
		r.queue = []store.Change{{Op: store.OpResync, SessionID: r.state.SessionID()}}
	} else {
		r.queue = append(r.queue, c)
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run handles queued changes until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			c := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			if err := r.Handle(ctx, c); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("table", c.Table).Str("op", string(c.Op)).Msg("reconcile failed")
			}
		}
	}
}

// Handle applies one change. It is safe to call directly in tests.
func (r *Reconciler) Handle(ctx context.Context, c store.Change) error {
	table := c.Table
	if c.Op == store.OpResync {
		table = "resync"
	}
	err := r.handle(ctx, c)
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.ReconcileRuns.WithLabelValues(table, result).Inc()
	return err
}

func (r *Reconciler) handle(ctx context.Context, c store.Change) error {
	if c.Op == store.OpResync {
		return r.Reload(ctx)
	}
	switch c.Table {
	case store.TableSessions:
		return r.syncSession(ctx)
	case store.TableParticipants:
		return r.syncParticipants(ctx)
	case store.TableSongs:
		return r.syncSongs(ctx)
	case store.TableScores:
		if c.Op == store.OpInsert {
			var sc models.Score
			if err := c.Decode(&sc); err == nil && sc.ID != "" {
				r.state.MergeScores(sc)
				return nil
			}
		}
		return r.syncScores(ctx)
	case store.TableSkipVotes:
		return r.syncSkipVotes(ctx)
	case store.TableChat:
		var msg models.ChatMessage
		if err := c.Decode(&msg); err == nil && msg.ID != "" {
			r.state.MergeChat(msg)
			return nil
		}
		return r.syncChat(ctx)
	}
	return nil
}

// Reload refetches everything. It runs on connect, after a feed resync and
// when the session finishes so the results view sees every late write.
func (r *Reconciler) Reload(ctx context.Context) error {
	for _, step := range []func(context.Context) error{
		r.syncParticipants,
		r.syncSongs,
		r.syncSession,
		r.syncScores,
		r.syncChat,
	} {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) syncSession(ctx context.Context) error {
	sess, err := r.loader.GetSession(ctx, r.state.SessionID())
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	r.state.SetSession(sess)
	return r.syncSkipVotes(ctx)
}

func (r *Reconciler) syncParticipants(ctx context.Context) error {
	ps, err := r.loader.ListParticipants(ctx, r.state.SessionID())
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	r.state.SetParticipants(ps)
	return nil
}

func (r *Reconciler) syncSongs(ctx context.Context) error {
	songs, err := r.loader.ListSongs(ctx, r.state.SessionID())
	if err != nil {
		return fmt.Errorf("load songs: %w", err)
	}
	r.state.SetSongs(songs)
	return nil
}

func (r *Reconciler) syncScores(ctx context.Context) error {
	scores, err := r.loader.ListScores(ctx, r.state.SessionID())
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	r.state.SetScores(scores)
	return nil
}

func (r *Reconciler) syncSkipVotes(ctx context.Context) error {
	song, ok := r.state.CurrentSong()
	if !ok {
		return nil
	}
	votes, err := r.loader.ListSkipVotes(ctx, r.state.SessionID(), song.ID)
	if err != nil {
		return fmt.Errorf("load skip votes: %w", err)
	}
	r.state.SetSkipVotes(song.ID, votes)
	return nil
}

func (r *Reconciler) syncChat(ctx context.Context) error {
	msgs, err := r.loader.ListChat(ctx, r.state.SessionID(), chatWindow)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	r.state.MergeChat(msgs...)
	return nil
}
