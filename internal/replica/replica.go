/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/playback"
	"github.com/friendsincode/listenparty/internal/skipvote"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/rs/zerolog"
)

// ErrSessionUnavailable wraps failures of the initial load.
var ErrSessionUnavailable = errors.New("session unavailable")

// errUnbackedQuorum keeps the skip machine at quorum_reached until a resync
// settles the tally.
var errUnbackedQuorum = errors.New("skip quorum not backed by stored votes")

// Actions are the host-only transitions a replica may request.
type Actions interface {
	Advance(ctx context.Context, sessionID string, fromIndex int) error
	SongEnded(ctx context.Context, sessionID string, songIndex int) error
}

// Options wires a replica to its collaborators. Feed, Events, Actions and
// Player are optional.
type Options struct {
	SessionID     string
	ParticipantID string

	Loader  Loader
	Feed    store.ChangeFeed
	Events  events.Subscriber
	Actions Actions
	Player  playback.Player
	Gate    *playback.InteractionGate

	Party    config.PartyDefaults
	OnStatus func(playback.Status)
	Logger   zerolog.Logger
}

// Replica is a connected client view: the state aggregate plus the tasks
// that keep it current and act on it.
type Replica struct {
	State      *State
	Reconciler *Reconciler
	Clock      *playback.Clock
	Skip       *skipvote.Machine

	loader      Loader
	actions     Actions
	fraction    float64
	skipOpensAt time.Duration
	logger      zerolog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsubs  []func()
	closeMu sync.Once
}

// Connect loads the session and starts the reconciler, the playback clock
// and the skip-vote machine. A failed initial load is returned as is so the
// caller can fall back instead of showing a half-initialized session.
func Connect(ctx context.Context, opts Options) (*Replica, error) {
	if opts.Loader == nil {
		return nil, errors.New("replica: loader required")
	}
	logger := opts.Logger.With().Str("session_id", opts.SessionID).Logger()
	state := NewState(opts.SessionID, opts.ParticipantID)
	rec := NewReconciler(state, opts.Loader, logger)

	if err := rec.Reload(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Replica{
		State:       state,
		Reconciler:  rec,
		loader:      opts.Loader,
		actions:     opts.Actions,
		fraction:    opts.Party.SkipThreshold,
		skipOpensAt: opts.Party.SkipAvailableAfter,
		logger:      logger.With().Str("component", "replica").Logger(),
		cancel:      cancel,
	}
	if r.fraction <= 0 || r.fraction > 1 {
		r.fraction = skipvote.DefaultFraction
	}
	isHost := state.IsHost()

	r.Skip = skipvote.NewMachine(skipvote.Config{
		Fraction:      opts.Party.SkipThreshold,
		CheckInterval: opts.Party.SkipCheckInterval,
		IsHost:        isHost && opts.Actions != nil,
	}, r.advance, state, logger)

	if opts.Player != nil {
		r.Clock = playback.New(opts.Player, state, opts.Gate, playback.Config{
			CorrectionInterval: opts.Party.CorrectionInterval,
			DriftThreshold:     opts.Party.DriftThreshold,
			IsHost:             isHost && opts.Actions != nil,
		}, logger, playback.WithStatusCallback(opts.OnStatus), playback.WithEndedHandler(r.ended))
	}

	r.unsubs = append(r.unsubs, state.OnUpdate(r.onUpdate))
	if opts.Feed != nil {
		r.unsubs = append(r.unsubs, rec.Watch(opts.Feed))
	}
	if opts.Events != nil {
		r.unsubs = append(r.unsubs, opts.Events.SubscribeAll(opts.SessionID, func(_ string, ev events.Event) {
			state.ApplyEphemeral(ev)
		}))
	}
	r.refreshSkip()

	r.start(runCtx, rec.Run)
	r.start(runCtx, r.Skip.Run)
	if r.Clock != nil {
		r.start(runCtx, r.Clock.Run)
	}
	r.logger.Info().Bool("host", isHost).Msg("replica connected")
	return r, nil
}

func (r *Replica) start(ctx context.Context, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(ctx)
	}()
}

// onUpdate keeps the dependent machines in step with the aggregate.
func (r *Replica) onUpdate(u Update) {
	switch u.Kind {
	case UpdateSongChanged, UpdateSkipVotes, UpdateParticipants, UpdateSongs:
		r.refreshSkip()
		if u.Kind == UpdateSongChanged && r.Clock != nil {
			r.Clock.Nudge()
		}
	case UpdateEnded:
		r.refreshSkip()
		if u.Origin == OriginEphemeral {
			r.Reconciler.Enqueue(store.Change{Op: store.OpResync, SessionID: r.State.SessionID()})
		}
		if r.Clock != nil {
			r.Clock.Nudge()
		}
	}
}

func (r *Replica) refreshSkip() {
	tally, ok := r.State.SkipTally()
	if !ok {
		r.Skip.SetSong("", -1)
		return
	}
	r.Skip.SetSong(tally.SongID, tally.SongIndex)
	r.Skip.Apply(tally.Votes, tally.Participants)
}

// advance is the skip machine's advancer. It drops requests the state has
// already moved past and only acts on a tally the record store agrees with.
func (r *Replica) advance(ctx context.Context, songIndex int) error {
	if !r.current(songIndex) {
		return nil
	}
	backed, err := r.storedQuorum(ctx, songIndex)
	if err != nil {
		return err
	}
	if !backed {
		r.Reconciler.Enqueue(store.Change{Op: store.OpResync, SessionID: r.State.SessionID()})
		return errUnbackedQuorum
	}
	if err := r.actions.Advance(ctx, r.State.SessionID(), songIndex); err != nil {
		if r.State.Finished() {
			r.logger.Debug().Err(err).Msg("advance failed after session finished, ignoring")
			return nil
		}
		return err
	}
	return nil
}

// storedQuorum recounts the votes on the current song from the loader.
func (r *Replica) storedQuorum(ctx context.Context, songIndex int) (bool, error) {
	np, ok := r.State.NowPlaying()
	if !ok || np.Index != songIndex {
		return false, nil
	}
	sessionID := r.State.SessionID()
	votes, err := r.loader.ListSkipVotes(ctx, sessionID, np.SongID)
	if err != nil {
		return false, fmt.Errorf("load skip votes: %w", err)
	}
	participants, err := r.loader.ListParticipants(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load participants: %w", err)
	}
	n := len(participants)
	return n > 0 && len(votes) >= skipvote.ThresholdFor(n, r.fraction), nil
}

// SkipEligible reports whether the skip control should be offered at now.
func (r *Replica) SkipEligible(now time.Time) bool {
	return r.State.SkipEligible(now, r.skipOpensAt)
}

func (r *Replica) ended(ctx context.Context, songIndex int) error {
	if !r.current(songIndex) {
		return nil
	}
	err := r.actions.SongEnded(ctx, r.State.SessionID(), songIndex)
	if err != nil && r.State.Finished() {
		return nil
	}
	return err
}

func (r *Replica) current(songIndex int) bool {
	np, ok := r.State.NowPlaying()
	return ok && np.Index == songIndex
}

// Interact opens the autoplay gate.
func (r *Replica) Interact(ctx context.Context) {
	if r.Clock != nil {
		r.Clock.Interact(ctx)
	}
}

// Close stops every task and unsubscribes.
func (r *Replica) Close() {
	r.closeMu.Do(func() {
		for _, unsub := range r.unsubs {
			unsub()
		}
		r.cancel()
		r.wg.Wait()
	})
}
