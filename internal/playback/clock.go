/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback keeps a local player aligned with the session clock. The
// expected position is always derived from when the current song started.
package playback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	DefaultCorrectionInterval = 5 * time.Second
	DefaultDriftThreshold     = 3 * time.Second
)

// ExpectedOffsetSeconds is the whole seconds elapsed since startedAt, never
// negative.
func ExpectedOffsetSeconds(now, startedAt time.Time) int {
	elapsed := now.Sub(startedAt)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / time.Second)
}

// ClampedOffset is ExpectedOffsetSeconds limited to [0, durationSeconds].
func ClampedOffset(now, startedAt time.Time, durationSeconds int) int {
	offset := ExpectedOffsetSeconds(now, startedAt)
	if durationSeconds > 0 && offset > durationSeconds {
		return durationSeconds
	}
	return offset
}

// Player is the local audio output.
type Player interface {
	Seek(seconds float64) error
	Play() error
	Position() (float64, error)
	Paused() bool
}

// Status is what the clock reports to the UI.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusPlaying          Status = "playing"
	StatusResyncing        Status = "resyncing"
	StatusNeedsInteraction Status = "needs_interaction"
)

// NowPlaying is the slice of session state the clock follows.
type NowPlaying struct {
	SongID          string
	Index           int
	StartedAt       time.Time
	DurationSeconds int
}

// Source yields the current song, or false when nothing is playing.
type Source interface {
	NowPlaying() (NowPlaying, bool)
}

// EndedHandler receives the host's ended signal for a song index.
type EndedHandler func(ctx context.Context, songIndex int) error

// InteractionGate records whether the user has interacted with the client,
// which some players require before audio may start.
type InteractionGate struct {
	interacted atomic.Bool
}

// NewInteractionGate creates a gate, optionally already open.
func NewInteractionGate(open bool) *InteractionGate {
	g := &InteractionGate{}
	g.interacted.Store(open)
	return g
}

// Mark records an interaction.
func (g *InteractionGate) Mark() { g.interacted.Store(true) }

// Interacted reports whether playback may start.
func (g *InteractionGate) Interacted() bool { return g.interacted.Load() }

// Config tunes a Clock.
type Config struct {
	CorrectionInterval time.Duration
	DriftThreshold     time.Duration
	IsHost             bool
}

// Clock corrects a Player against the session's playback clock.
type Clock struct {
	player Player
	source Source
	gate   *InteractionGate
	cfg    Config
	logger zerolog.Logger

	onStatus func(Status)
	onEnded  EndedHandler
	now      func() time.Time

	nudge chan struct{}

	mu       sync.Mutex
	loadedID string
	status   Status
}

// Option configures a Clock.
type Option func(*Clock)

// WithStatusCallback reports every status transition.
func WithStatusCallback(fn func(Status)) Option {
	return func(c *Clock) { c.onStatus = fn }
}

// WithEndedHandler sets where a host clock forwards ended signals.
func WithEndedHandler(fn EndedHandler) Option {
	return func(c *Clock) { c.onEnded = fn }
}

// WithNow overrides the time source.
func WithNow(fn func() time.Time) Option {
	return func(c *Clock) { c.now = fn }
}

// New creates a clock. A nil gate is treated as already open.
func New(player Player, source Source, gate *InteractionGate, cfg Config, logger zerolog.Logger, opts ...Option) *Clock {
	if cfg.CorrectionInterval <= 0 {
		cfg.CorrectionInterval = DefaultCorrectionInterval
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	if gate == nil {
		gate = NewInteractionGate(true)
	}
	c := &Clock{
		player: player,
		source: source,
		gate:   gate,
		cfg:    cfg,
		logger: logger.With().Str("component", "playback_clock").Logger(),
		now:    time.Now,
		status: StatusIdle,
		nudge:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the last reported status.
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Clock) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed && c.onStatus != nil {
		c.onStatus(s)
	}
}

// Run performs a correction check every CorrectionInterval until ctx ends.
func (c *Clock) Run(ctx context.Context) {
	c.Check(ctx)

	ticker := time.NewTicker(c.cfg.CorrectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		case <-c.nudge:
			c.Check(ctx)
		}
	}
}

// Nudge asks Run for an immediate check, e.g. after the song changed.
func (c *Clock) Nudge() {
	select {
	case c.nudge <- struct{}{}:
	default:
	}
}

// Check runs one correction pass.
func (c *Clock) Check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	np, ok := c.source.NowPlaying()
	if !ok {
		c.mu.Lock()
		c.loadedID = ""
		c.mu.Unlock()
		c.setStatus(StatusIdle)
		return
	}

	c.mu.Lock()
	loaded := c.loadedID
	c.mu.Unlock()
	if np.SongID != loaded {
		c.load(np)
		return
	}

	expected := ClampedOffset(c.now(), np.StartedAt, np.DurationSeconds)

	if c.player.Paused() {
		c.resume(expected)
		return
	}

	actual, err := c.player.Position()
	if err != nil {
		c.logger.Warn().Err(err).Msg("read player position")
		return
	}
	if math.Abs(actual-float64(expected)) > c.cfg.DriftThreshold.Seconds() {
		c.logger.Debug().
			Float64("actual", actual).
			Int("expected", expected).
			Str("song_id", np.SongID).
			Msg("drift past threshold, re-seeking")
		if err := c.player.Seek(float64(expected)); err != nil {
			c.logger.Warn().Err(err).Msg("seek failed, retrying next tick")
			return
		}
		telemetry.DriftCorrections.Inc()
		c.setStatus(StatusResyncing)
		return
	}
	c.setStatus(StatusPlaying)
}

// load seeks a newly current song to its expected offset and starts it. The
// song only counts as loaded once the seek succeeded, so failures retry.
func (c *Clock) load(np NowPlaying) {
	expected := ClampedOffset(c.now(), np.StartedAt, np.DurationSeconds)
	if err := c.player.Seek(float64(expected)); err != nil {
		c.logger.Warn().Err(err).Str("song_id", np.SongID).Msg("seek on song change failed")
		return
	}
	c.mu.Lock()
	c.loadedID = np.SongID
	c.mu.Unlock()
	c.resume(expected)
}

func (c *Clock) resume(expected int) {
	if !c.gate.Interacted() {
		c.setStatus(StatusNeedsInteraction)
		return
	}
	if err := c.player.Play(); err != nil {
		c.logger.Warn().Err(err).Int("offset", expected).Msg("play failed, retrying next tick")
		return
	}
	c.setStatus(StatusPlaying)
}

// Interact opens the gate (the "tap to play" affordance) and corrects
// immediately.
func (c *Clock) Interact(ctx context.Context) {
	c.gate.Mark()
	c.Check(ctx)
}

// Ended handles the player's ended signal. Only the host forwards it;
// other clients wait for the session to move on.
func (c *Clock) Ended(ctx context.Context) error {
	np, ok := c.source.NowPlaying()
	if !ok {
		return nil
	}
	if !c.cfg.IsHost || c.onEnded == nil {
		c.logger.Debug().Int("song_index", np.Index).Msg("song ended locally, waiting for host")
		return nil
	}
	return c.onEnded(ctx, np.Index)
}
