package events

import (
	"context"
	"strings"
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBusDeliversToEveryHandlerOfType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first := make(chan Event, 1)
	second := make(chan Event, 1)
	other := make(chan Event, 1)
	bus.Subscribe("s1", EventSongAdded, func(_ string, ev Event) { first <- ev })
	bus.Subscribe("s1", EventSongAdded, func(_ string, ev Event) { second <- ev })
	bus.Subscribe("s1", EventChatMessage, func(_ string, ev Event) { other <- ev })

	status := bus.Publish(context.Background(), "s1", SongAdded{SongID: "song-1", Title: "Intro"})
	if status != StatusOK {
		t.Fatalf("expected ok status, got %s", status)
	}

	for _, ch := range []chan Event{first, second} {
		ev := waitEvent(t, ch)
		added, ok := ev.(SongAdded)
		if !ok || added.SongID != "song-1" {
			t.Fatalf("unexpected event %#v", ev)
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("chat handler received %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusIsSessionScoped(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 1)
	bus.SubscribeAll("s2", func(_ string, ev Event) { got <- ev })
	bus.Publish(context.Background(), "s1", SessionEnded{SessionID: "s1"})

	select {
	case ev := <-got:
		t.Fatalf("unexpected cross-session delivery %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 4)
	unsubscribe := bus.Subscribe("s1", EventSongReaction, func(_ string, ev Event) { got <- ev })
	unsubscribe()
	unsubscribe()

	if n := bus.SubscriberCount("s1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	bus.Publish(context.Background(), "s1", SongReaction{Emoji: "🔥"})
	select {
	case ev := <-got:
		t.Fatalf("received after unsubscribe: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPreservesOrderPerSubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 16)
	bus.Subscribe("s1", EventChatMessage, func(_ string, ev Event) { got <- ev })
	for _, id := range []string{"a", "b", "c", "d"} {
		bus.Publish(context.Background(), "s1", ChatMessage{ID: id})
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		ev := waitEvent(t, got).(ChatMessage)
		if ev.ID != want {
			t.Fatalf("expected %s, got %s", want, ev.ID)
		}
	}
}

func TestBusRateLimitIsNotFatal(t *testing.T) {
	bus := NewBus(WithLimiter(NewLimiter(0.001, 1)))
	defer bus.Close()

	if status := bus.Publish(context.Background(), "s1", SessionEnded{}); status != StatusOK {
		t.Fatalf("first publish: expected ok, got %s", status)
	}
	if status := bus.Publish(context.Background(), "s1", SessionEnded{}); status != StatusRateLimited {
		t.Fatalf("second publish: expected rate_limited, got %s", status)
	}
	if status := bus.Publish(context.Background(), "s2", SessionEnded{}); status != StatusOK {
		t.Fatalf("other session: expected ok, got %s", status)
	}
}

func TestBusPublishWithCancelledContextTimesOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if status := bus.Publish(ctx, "s1", SessionEnded{}); status != StatusTimeout {
		t.Fatalf("expected timeout, got %s", status)
	}
}

func TestEnvelopeRoundTripKeepsVariant(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := Wrap("s1", "node-a", SongChanged{SessionID: "s1", SongID: "song-2", SongIndex: 1, StartedAt: started})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if env.Type != EventSongChanged || env.MessageID == "" {
		t.Fatalf("unexpected envelope %#v", env)
	}

	ev, err := env.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	changed, ok := ev.(SongChanged)
	if !ok {
		t.Fatalf("expected SongChanged value, got %T", ev)
	}
	if changed.SongIndex != 1 || !changed.StartedAt.Equal(started) {
		t.Fatalf("payload mismatch: %#v", changed)
	}
}

func TestSkipVoteVariantsShareFlatPayload(t *testing.T) {
	env, err := Wrap("s1", "", SkipVoteRemoved{SkipVote{SkipVoteID: "v1", SongID: "song-1"}})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if string(env.Payload) == "" || !strings.Contains(string(env.Payload), `"skip_vote_id":"v1"`) {
		t.Fatalf("expected flat payload, got %s", env.Payload)
	}
	ev, err := env.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if removed, ok := ev.(SkipVoteRemoved); !ok || removed.SkipVoteID != "v1" {
		t.Fatalf("unexpected decode %#v", ev)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Envelope{Type: "mystery", Payload: []byte(`{}`)}.Decode()
	if err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestParseEventTypesDropsUnknown(t *testing.T) {
	got := ParseEventTypes([]string{"song_added", "bogus", "chat_message"})
	if len(got) != 2 || got[0] != EventSongAdded || got[1] != EventChatMessage {
		t.Fatalf("unexpected parse result %v", got)
	}
}
