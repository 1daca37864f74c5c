package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	clock := start
	tr := NewTracker(30*time.Second, zerolog.Nop())
	tr.now = func() time.Time { return clock }
	return tr, &clock
}

func equalKinds(got []Kind, want ...Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestTrackEmitsJoinOnceThenSync(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	rec := &recorder{}
	cancel := tr.OnChange("s1", rec.add)
	defer cancel()

	tr.Track("s1", "c1", State{UserID: "u1", UserName: "Ada"})
	tr.Track("s1", "c1", State{UserID: "u1", UserName: "Ada", IsListening: true})

	if got := rec.kinds(); !equalKinds(got, KindSync, KindJoin, KindSync, KindSync) {
		t.Fatalf("unexpected event sequence: %v", got)
	}
	list := tr.List("s1")
	if len(list) != 1 || !list[0].IsListening {
		t.Fatalf("expected overwritten state, got %+v", list)
	}
}

func TestSecondTabDoesNotLeaveUntilBothGone(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	rec := &recorder{}
	cancel := tr.OnChange("s1", rec.add)
	defer cancel()

	tr.Track("s1", "tab1", State{UserID: "u1"})
	tr.Track("s1", "tab2", State{UserID: "u1"})
	tr.Untrack("s1", "tab1")

	if len(tr.List("s1")) != 1 {
		t.Fatalf("expected user still present")
	}
	tr.Untrack("s1", "tab2")
	if len(tr.List("s1")) != 0 {
		t.Fatalf("expected user gone")
	}

	kinds := rec.kinds()
	leaves := 0
	for _, k := range kinds {
		if k == KindLeave {
			leaves++
		}
	}
	if leaves != 1 {
		t.Fatalf("expected exactly one leave, got %v", kinds)
	}
}

func TestSweepRemovesSilentConnections(t *testing.T) {
	start := time.Unix(1000, 0)
	tr, clock := newTestTracker(start)

	tr.Track("s1", "c1", State{UserID: "u1"})
	tr.Track("s1", "c2", State{UserID: "u2"})

	*clock = start.Add(20 * time.Second)
	tr.Touch("s1", "c2")

	if n := tr.Sweep(start.Add(31 * time.Second)); n != 1 {
		t.Fatalf("expected one stale connection swept, got %d", n)
	}
	list := tr.List("s1")
	if len(list) != 1 || list[0].UserID != "u2" {
		t.Fatalf("expected only u2 to remain, got %+v", list)
	}
}

func TestListOrdersByJoinTime(t *testing.T) {
	start := time.Unix(1000, 0)
	tr, clock := newTestTracker(start)

	tr.Track("s1", "c1", State{UserID: "late", JoinedAt: start.Add(time.Minute)})
	*clock = start.Add(2 * time.Second)
	tr.Track("s1", "c2", State{UserID: "early", JoinedAt: start})

	list := tr.List("s1")
	if len(list) != 2 || list[0].UserID != "early" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestViewAppliesEvents(t *testing.T) {
	v := NewView()
	now := time.Unix(1000, 0)

	v.Apply(Event{Kind: KindSync, Entries: []State{{UserID: "a", JoinedAt: now}, {UserID: "b", JoinedAt: now.Add(time.Second), IsListening: true}}})
	if v.Count() != 2 || v.Listening() != 1 {
		t.Fatalf("unexpected view after sync: %+v", v.List())
	}

	v.Apply(Event{Kind: KindJoin, Entries: []State{{UserID: "c", JoinedAt: now.Add(2 * time.Second)}}})
	v.Apply(Event{Kind: KindLeave, Entries: []State{{UserID: "a"}}})

	list := v.List()
	if len(list) != 2 || list[0].UserID != "b" || list[1].UserID != "c" {
		t.Fatalf("unexpected view: %+v", list)
	}

	v.Apply(Event{Kind: KindSync})
	if v.Count() != 0 {
		t.Fatalf("expected empty sync to clear view")
	}
}

func TestEventsKeepOrderWhenDeliveryIsSlow(t *testing.T) {
	tr, _ := newTestTracker(time.Unix(1000, 0))
	view := NewView()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cancel := tr.OnChange("s", func(ev Event) {
		if ev.Kind == KindJoin {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		view.Apply(ev)
	})
	defer cancel()

	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		tr.Track("s", "c1", State{UserID: "u1", UserName: "ana"})
	}()
	<-entered

	untracked := make(chan struct{})
	go func() {
		defer close(untracked)
		tr.Untrack("s", "c1")
	}()
	select {
	case <-untracked:
	case <-time.After(2 * time.Second):
		t.Fatal("untrack blocked behind a slow subscriber")
	}
	if n := len(tr.List("s")); n != 0 {
		t.Fatalf("expected tracker to be empty, got %d", n)
	}

	close(release)
	<-tracked
	if n := view.Count(); n != 0 {
		t.Fatalf("expected view to drop the departed user, got %d", n)
	}
}
