package replica

import (
	"testing"
	"time"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/presence"
)

var base = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func playingState(t *testing.T, index int) *State {
	t.Helper()
	st := NewState("s1", "host")
	st.SetSongs([]models.Song{
		{ID: "song-b", Position: 1, DurationSeconds: 200},
		{ID: "song-a", Position: 0, DurationSeconds: 180},
		{ID: "song-c", Position: 2, DurationSeconds: 240},
	})
	st.SetParticipants([]models.Participant{
		{ID: "host", JoinedAt: base},
		{ID: "guest-1", JoinedAt: base.Add(time.Minute)},
		{ID: "guest-2", JoinedAt: base.Add(2 * time.Minute)},
	})
	started := base.Add(10 * time.Minute)
	st.SetSession(&models.Session{
		ID:                   "s1",
		HostID:               "host",
		Status:               models.StatusPlaying,
		CurrentSongIndex:     &index,
		CurrentSongStartedAt: &started,
		UpdatedAt:            started,
	})
	return st
}

func countUpdates(st *State) *int {
	n := new(int)
	st.OnUpdate(func(Update) { *n++ })
	return n
}

func TestSongsKeepPositionOrder(t *testing.T) {
	st := playingState(t, 0)
	songs := st.Songs()
	if songs[0].ID != "song-a" || songs[1].ID != "song-b" || songs[2].ID != "song-c" {
		t.Fatalf("unexpected order: %v", songs)
	}
	np, ok := st.NowPlaying()
	if !ok || np.SongID != "song-a" || np.DurationSeconds != 180 {
		t.Fatalf("unexpected now playing: %+v ok=%v", np, ok)
	}
	if !st.IsHost() {
		t.Fatal("expected local user to be host")
	}
}

func TestSongChangedAtCurrentIndexIsNoop(t *testing.T) {
	st := playingState(t, 1)
	updates := countUpdates(st)

	got := st.ApplyEphemeral(events.SongChanged{
		SessionID: "s1",
		SongID:    "song-b",
		SongIndex: 1,
		StartedAt: base.Add(11 * time.Minute),
	})
	if len(got) != 0 || *updates != 0 {
		t.Fatalf("expected no updates, got %v (%d notified)", got, *updates)
	}
	np, _ := st.NowPlaying()
	if !np.StartedAt.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("started_at mutated: %v", np.StartedAt)
	}
}

func TestEphemeralSongChangeAppliesAndResetsSkipVotes(t *testing.T) {
	st := playingState(t, 0)
	st.ApplyEphemeral(events.SkipVoteAdded{SkipVote: events.SkipVote{SkipVoteID: "v1", SongID: "song-a", ParticipantID: "guest-1"}})
	if tally, _ := st.SkipTally(); tally.Votes != 1 {
		t.Fatalf("expected 1 vote, got %d", tally.Votes)
	}

	got := st.ApplyEphemeral(events.SongChanged{SessionID: "s1", SongID: "song-b", SongIndex: 1, StartedAt: base.Add(13 * time.Minute)})
	if len(got) != 1 || got[0].Kind != UpdateSongChanged {
		t.Fatalf("expected one song_changed update, got %v", got)
	}
	tally, ok := st.SkipTally()
	if !ok || tally.SongID != "song-b" || tally.Votes != 0 || tally.Participants != 3 {
		t.Fatalf("unexpected tally after song change: %+v", tally)
	}

	// A vote for the previous song arriving late is ignored.
	st.ApplyEphemeral(events.SkipVoteAdded{SkipVote: events.SkipVote{SkipVoteID: "v2", SongID: "song-a", ParticipantID: "guest-2"}})
	if tally, _ := st.SkipTally(); tally.Votes != 0 {
		t.Fatalf("expected late vote to be ignored, got %d", tally.Votes)
	}
}

func TestOlderSongChangedDoesNotRewind(t *testing.T) {
	st := playingState(t, 1)
	got := st.ApplyEphemeral(events.SongChanged{SessionID: "s1", SongID: "song-a", SongIndex: 0, StartedAt: base})
	if len(got) != 0 {
		t.Fatalf("expected out-of-order event to be dropped, got %v", got)
	}
}

func TestAuthoritativeOverridesEphemeral(t *testing.T) {
	st := playingState(t, 0)
	st.ApplyEphemeral(events.SongChanged{SessionID: "s1", SongID: "song-b", SongIndex: 1, StartedAt: base.Add(12 * time.Minute)})

	idx := 0
	started := base.Add(10 * time.Minute)
	st.SetSession(&models.Session{
		ID: "s1", HostID: "host", Status: models.StatusPlaying,
		CurrentSongIndex: &idx, CurrentSongStartedAt: &started,
		UpdatedAt: base.Add(12 * time.Minute),
	})
	np, _ := st.NowPlaying()
	if np.Index != 0 || np.SongID != "song-a" {
		t.Fatalf("expected authoritative index 0, got %+v", np)
	}

	st.ApplyEphemeral(events.ScoreAdded{ScoreID: "sc1", SongID: "song-a", ParticipantID: "guest-1", Rating: 2})
	st.MergeScores(models.Score{ID: "sc1", SongID: "song-a", ParticipantID: "guest-1", Rating: 4})
	st.ApplyEphemeral(events.ScoreAdded{ScoreID: "sc1", SongID: "song-a", ParticipantID: "guest-1", Rating: 1})
	if stats := st.Stats("song-a"); stats.Count != 1 || stats.Average != 4 {
		t.Fatalf("expected authoritative rating 4/1, got %+v", stats)
	}
}

func TestStaleSessionRowsAreDropped(t *testing.T) {
	st := playingState(t, 1)
	idx := 0
	old := base
	changed := st.SetSession(&models.Session{
		ID: "s1", HostID: "host", Status: models.StatusPlaying,
		CurrentSongIndex: &idx, CurrentSongStartedAt: &old,
		UpdatedAt: base.Add(time.Minute),
	})
	if changed {
		t.Fatal("expected stale row to be ignored")
	}
	if np, _ := st.NowPlaying(); np.Index != 1 {
		t.Fatalf("expected index 1, got %d", np.Index)
	}
}

func TestFinishedIsTerminalUnlessOnlyEphemeral(t *testing.T) {
	st := playingState(t, 0)
	st.ApplyEphemeral(events.SessionEnded{SessionID: "s1", HostID: "host"})
	if !st.Finished() {
		t.Fatal("expected ephemeral end to apply")
	}
	if _, ok := st.NowPlaying(); ok {
		t.Fatal("expected nothing playing after end")
	}

	// The store still says playing: authoritative wins.
	idx := 0
	started := base.Add(10 * time.Minute)
	st.SetSession(&models.Session{
		ID: "s1", HostID: "host", Status: models.StatusPlaying,
		CurrentSongIndex: &idx, CurrentSongStartedAt: &started,
		UpdatedAt: base.Add(10 * time.Minute),
	})
	if st.Finished() {
		t.Fatal("expected authoritative playing row to override ephemeral end")
	}

	st.SetSession(&models.Session{ID: "s1", HostID: "host", Status: models.StatusFinished, UpdatedAt: base.Add(20 * time.Minute)})
	st.SetSession(&models.Session{
		ID: "s1", HostID: "host", Status: models.StatusPlaying,
		CurrentSongIndex: &idx, CurrentSongStartedAt: &started,
		UpdatedAt: base.Add(30 * time.Minute),
	})
	if !st.Finished() {
		t.Fatal("expected authoritative finish to be terminal")
	}
}

func TestDuplicateEphemeralEventsAreIdempotent(t *testing.T) {
	st := playingState(t, 0)
	updates := countUpdates(st)

	added := events.SongAdded{SongID: "song-d", Title: "new"}
	st.ApplyEphemeral(added)
	st.ApplyEphemeral(added)
	chat := events.ChatMessage{ID: "c1", ParticipantID: "guest-1", Message: "hi"}
	st.ApplyEphemeral(chat)
	st.ApplyEphemeral(chat)

	if len(st.Songs()) != 4 {
		t.Fatalf("expected 4 songs, got %d", len(st.Songs()))
	}
	if songs := st.Songs(); songs[3].Position != 3 {
		t.Fatalf("expected provisional position 3, got %d", songs[3].Position)
	}
	if len(st.Chat()) != 1 {
		t.Fatalf("expected 1 chat line, got %d", len(st.Chat()))
	}
	if *updates != 2 {
		t.Fatalf("expected 2 notifications, got %d", *updates)
	}
}

func TestPresenceSyncReplaces(t *testing.T) {
	st := NewState("s1", "me")
	st.ApplyPresence(presence.Event{Kind: presence.KindJoin, Entries: []presence.State{{UserID: "ghost"}}})
	st.ApplyPresence(presence.Event{Kind: presence.KindSync, Entries: []presence.State{{UserID: "a"}, {UserID: "b", IsListening: true}}})
	if st.Presence().Count() != 2 || st.Presence().Listening() != 1 {
		t.Fatalf("unexpected presence: %+v", st.Presence().List())
	}
}
