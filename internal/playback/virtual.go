/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"
	"time"
)

// VirtualPlayer is a Player with no audio output. Its position advances
// with wall time while playing, which lets headless listeners and hosts
// drive song-ended transitions.
type VirtualPlayer struct {
	mu        sync.Mutex
	now       func() time.Time
	base      float64
	startedAt time.Time
	playing   bool
}

// NewVirtualPlayer returns a paused player at position zero. A nil now
// uses time.Now.
func NewVirtualPlayer(now func() time.Time) *VirtualPlayer {
	if now == nil {
		now = time.Now
	}
	return &VirtualPlayer{now: now}
}

func (v *VirtualPlayer) Seek(seconds float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	v.base = seconds
	v.startedAt = v.now()
	return nil
}

func (v *VirtualPlayer) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.playing {
		v.playing = true
		v.startedAt = v.now()
	}
	return nil
}

// Pause freezes the position.
func (v *VirtualPlayer) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing {
		v.base = v.positionLocked()
		v.playing = false
	}
}

func (v *VirtualPlayer) Position() (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked(), nil
}

func (v *VirtualPlayer) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.playing
}

func (v *VirtualPlayer) positionLocked() float64 {
	if !v.playing {
		return v.base
	}
	return v.base + v.now().Sub(v.startedAt).Seconds()
}
