package playback

import (
	"testing"
	"time"
)

func TestVirtualPlayerAdvancesWhilePlaying(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewVirtualPlayer(func() time.Time { return now })

	if !p.Paused() {
		t.Fatal("expected new player to be paused")
	}
	if err := p.Seek(30); err != nil {
		t.Fatalf("seek: %v", err)
	}
	now = now.Add(5 * time.Second)
	if pos, _ := p.Position(); pos != 30 {
		t.Fatalf("paused position moved: %v", pos)
	}

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	now = now.Add(4 * time.Second)
	if pos, _ := p.Position(); pos != 34 {
		t.Fatalf("expected 34s, got %v", pos)
	}

	if err := p.Seek(10); err != nil {
		t.Fatalf("seek: %v", err)
	}
	now = now.Add(2 * time.Second)
	if pos, _ := p.Position(); pos != 12 {
		t.Fatalf("expected 12s after seek, got %v", pos)
	}

	p.Pause()
	now = now.Add(time.Minute)
	if pos, _ := p.Position(); pos != 12 {
		t.Fatalf("expected pause to freeze at 12s, got %v", pos)
	}
}
