package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/listenparty/internal/events"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := marshalEnvelope("sess-1", "node-a", events.SongAdded{SongID: "song-1", Title: "Teardrop", Artist: "Massive Attack"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	env, err := unmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.NodeID != "node-a" || env.SessionID != "sess-1" {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	ev, err := env.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	added, ok := ev.(events.SongAdded)
	if !ok {
		t.Fatalf("expected SongAdded, got %T", ev)
	}
	if added.Title != "Teardrop" || added.SongID != "song-1" {
		t.Fatalf("unexpected payload: %+v", added)
	}
}

func waitFor(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNewFallsBackToMemoryWhenNATSUnreachable(t *testing.T) {
	nc := DefaultNATSConfig()
	nc.URL = "nats://127.0.0.1:1"
	nc.MaxReconnects = 0
	nc.Timeout = 200 * time.Millisecond

	b := New(Options{Kind: KindNATS, NATS: nc}, zerolog.Nop())
	defer b.Close()

	if _, ok := b.(memoryBus); !ok {
		t.Fatalf("expected in-memory fallback, got %T", b)
	}

	got := make(chan events.Event, 1)
	unsub := b.SubscribeAll("sess-1", func(_ string, ev events.Event) { got <- ev })
	defer unsub()

	if status := b.Publish(context.Background(), "sess-1", events.SongAdded{SongID: "s"}); status != events.StatusOK {
		t.Fatalf("expected ok, got %s", status)
	}
	if ev := waitFor(t, got); ev.Type() != events.EventSongAdded {
		t.Fatalf("unexpected event %s", ev.Type())
	}
}

func TestMemoryBusAppliesLimiter(t *testing.T) {
	b := New(Options{Kind: KindMemory, Limiter: events.NewLimiter(0.001, 1)}, zerolog.Nop())
	defer b.Close()

	ctx := context.Background()
	if status := b.Publish(ctx, "sess-1", events.SongAdded{SongID: "a"}); status != events.StatusOK {
		t.Fatalf("first publish: %s", status)
	}
	if status := b.Publish(ctx, "sess-1", events.SongAdded{SongID: "b"}); status != events.StatusRateLimited {
		t.Fatalf("expected rate limited, got %s", status)
	}
	// Buckets are per session.
	if status := b.Publish(ctx, "sess-2", events.SongAdded{SongID: "c"}); status != events.StatusOK {
		t.Fatalf("other session publish: %s", status)
	}
}

func TestRedisBusFallbackDeliversLocally(t *testing.T) {
	rc := DefaultRedisConfig()
	rc.Addr = "127.0.0.1:1"
	rc.DialTimeout = 200 * time.Millisecond

	rb := NewRedisBus(rc, "node-a", zerolog.Nop())
	defer rb.Close()

	got := make(chan events.Event, 1)
	unsub := rb.Subscribe("sess-1", events.EventChatMessage, func(_ string, ev events.Event) { got <- ev })
	defer unsub()

	status := rb.Publish(context.Background(), "sess-1", events.ChatMessage{ID: "m1", Message: "hi"})
	if status != events.StatusOK {
		t.Fatalf("expected local delivery to report ok, got %s", status)
	}
	msg, ok := waitFor(t, got).(events.ChatMessage)
	if !ok || msg.Message != "hi" {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

func TestGenerateNodeIDUnique(t *testing.T) {
	if GenerateNodeID() == GenerateNodeID() {
		t.Fatal("expected distinct node ids")
	}
}
