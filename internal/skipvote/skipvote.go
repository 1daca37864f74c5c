/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package skipvote decides when enough participants want the current song
// skipped.
package skipvote

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	DefaultFraction       = 0.5
	DefaultCheckInterval  = 2 * time.Second
	DefaultAvailableAfter = 30 * time.Second
)

// Threshold is the number of votes needed with n participants.
func Threshold(n int) int {
	return ThresholdFor(n, DefaultFraction)
}

// ThresholdFor is ceil(n * fraction).
func ThresholdFor(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * fraction))
}

// QuorumReached reports whether votes meet the threshold. With no
// participants quorum is never reached.
func QuorumReached(votes, n int) bool {
	return quorum(votes, n, DefaultFraction)
}

func quorum(votes, n int, fraction float64) bool {
	return n > 0 && votes >= ThresholdFor(n, fraction)
}

// Eligible reports whether skipping may be offered elapsed into a song.
// Existing votes still count before this point.
func Eligible(elapsed, after time.Duration) bool {
	return elapsed >= after
}

// Phase is the state of the vote on the current song.
type Phase string

const (
	PhaseNoVotes       Phase = "no_votes"
	PhaseAccumulating  Phase = "accumulating"
	PhaseQuorumReached Phase = "quorum_reached"
	PhaseConsumed      Phase = "consumed"
)

// Advancer moves the session past songIndex.
type Advancer func(ctx context.Context, songIndex int) error

// Tally is a snapshot of votes on the current song.
type Tally struct {
	SongID       string
	SongIndex    int
	Votes        int
	Participants int
}

// Source supplies tallies to Run.
type Source interface {
	SkipTally() (Tally, bool)
}

// Config tunes a Machine.
type Config struct {
	Fraction      float64
	CheckInterval time.Duration
	IsHost        bool
}

// Machine tracks the skip vote for one session. Only a host machine acts on
// quorum, and it advances at most once per song.
type Machine struct {
	cfg     Config
	advance Advancer
	source  Source
	logger  zerolog.Logger

	mu       sync.Mutex
	songID   string
	index    int
	votes    int
	total    int
	phase    Phase
	inFlight bool
}

// NewMachine creates a machine. source may be nil when the caller feeds it
// through SetSong and Apply.
func NewMachine(cfg Config, advance Advancer, source Source, logger zerolog.Logger) *Machine {
	if cfg.Fraction <= 0 || cfg.Fraction > 1 {
		cfg.Fraction = DefaultFraction
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Machine{
		cfg:     cfg,
		advance: advance,
		source:  source,
		logger:  logger.With().Str("component", "skipvote").Logger(),
		phase:   PhaseNoVotes,
	}
}

// SetSong resets the machine when the current song changes.
func (m *Machine) SetSong(songID string, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if songID == m.songID && index == m.index {
		return
	}
	m.songID = songID
	m.index = index
	m.votes = 0
	m.phase = PhaseNoVotes
	m.inFlight = false
}

// Apply recomputes the phase from a vote count. A consumed song stays
// consumed until SetSong moves on.
func (m *Machine) Apply(votes, participants int) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = votes
	m.total = participants
	if m.phase == PhaseConsumed {
		return m.phase
	}
	switch {
	case quorum(votes, participants, m.cfg.Fraction):
		m.phase = PhaseQuorumReached
	case votes > 0:
		m.phase = PhaseAccumulating
	default:
		m.phase = PhaseNoVotes
	}
	return m.phase
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Progress returns votes and the threshold for display.
func (m *Machine) Progress() (votes, needed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.votes, ThresholdFor(m.total, m.cfg.Fraction)
}

// Check advances the session if quorum is reached. Concurrent checks while an
// advance is in flight return without acting. A failed advance leaves the
// phase at quorum_reached so the next check retries.
func (m *Machine) Check(ctx context.Context) (bool, error) {
	if !m.cfg.IsHost || m.advance == nil {
		return false, nil
	}

	m.mu.Lock()
	if m.phase != PhaseQuorumReached || m.inFlight {
		m.mu.Unlock()
		return false, nil
	}
	m.inFlight = true
	songID, index := m.songID, m.index
	m.mu.Unlock()

	err := m.advance(ctx, index)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	if err != nil {
		m.logger.Warn().Err(err).Str("song_id", songID).Msg("skip advance failed")
		return false, err
	}
	if m.songID == songID && m.index == index {
		m.phase = PhaseConsumed
	}
	telemetry.SkipQuorumAdvances.Inc()
	m.logger.Info().Str("song_id", songID).Int("song_index", index).Msg("skip quorum reached, advanced")
	return true, nil
}

// Run refreshes from the source and checks on CheckInterval until ctx ends.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh()
			_, _ = m.Check(ctx)
		}
	}
}

func (m *Machine) refresh() {
	if m.source == nil {
		return
	}
	tally, ok := m.source.SkipTally()
	if !ok {
		m.SetSong("", -1)
		return
	}
	m.SetSong(tally.SongID, tally.SongIndex)
	m.Apply(tally.Votes, tally.Participants)
}
