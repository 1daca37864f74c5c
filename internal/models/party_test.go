package models

import (
	"testing"
	"time"
)

func TestSessionIsPlaying(t *testing.T) {
	idx := 0
	cases := []struct {
		name string
		sess Session
		want bool
	}{
		{"waiting", Session{Status: StatusWaiting}, false},
		{"playing with song", Session{Status: StatusPlaying, CurrentSongIndex: &idx}, true},
		{"playing without song", Session{Status: StatusPlaying}, false},
		{"finished", Session{Status: StatusFinished, CurrentSongIndex: &idx}, false},
	}
	for _, tc := range cases {
		if got := tc.sess.IsPlaying(); got != tc.want {
			t.Fatalf("%s: IsPlaying()=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if (&Session{}).Expired(now) {
		t.Fatal("zero expiry must never expire")
	}
	if (&Session{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatal("future expiry reported expired")
	}
	if !(&Session{ExpiresAt: now.Add(-time.Minute)}).Expired(now) {
		t.Fatal("past expiry not reported")
	}
}
