package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/store/storetest"
)

func seedSession(t *testing.T, st *store.Store) (*models.Session, *models.Participant) {
	t.Helper()
	ctx := context.Background()

	sess := &models.Session{
		Name:      "friday",
		HostID:    "00000000-0000-0000-0000-000000000001",
		JoinCode:  "abc123",
		Status:    models.StatusWaiting,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	host := &models.Participant{ID: sess.HostID, SessionID: sess.ID, DisplayName: "host", IsHost: true}
	if err := st.CreateParticipant(ctx, host); err != nil {
		t.Fatalf("create host: %v", err)
	}
	return sess, host
}

func appendSong(t *testing.T, st *store.Store, sessionID, addedBy, sourceID string) *models.Song {
	t.Helper()
	song := &models.Song{
		SessionID:       sessionID,
		Title:           "song " + sourceID,
		Artist:          "artist",
		DurationSeconds: 200,
		Source:          "catalog",
		SourceID:        sourceID,
		AddedBy:         addedBy,
	}
	if err := st.AppendSong(context.Background(), song); err != nil {
		t.Fatalf("append song: %v", err)
	}
	return song
}

func TestJoinCodeLookupIgnoresCase(t *testing.T) {
	st, _ := storetest.New(t)
	sess, _ := seedSession(t, st)

	if sess.JoinCode != "ABC123" {
		t.Fatalf("expected join code stored upper-case, got %q", sess.JoinCode)
	}
	got, err := st.FindSessionByCode(context.Background(), " abc123 ")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("found wrong session %s", got.ID)
	}

	if _, err := st.FindSessionByCode(context.Background(), "ZZZZZZ"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateJoinCodeIsErrDuplicate(t *testing.T) {
	st, _ := storetest.New(t)
	seedSession(t, st)

	err := st.CreateSession(context.Background(), &models.Session{JoinCode: "ABC123", Status: models.StatusWaiting})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAppendSongAssignsIncreasingPositions(t *testing.T) {
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)

	for i, id := range []string{"a", "b", "c"} {
		song := appendSong(t, st, sess.ID, host.ID, id)
		if song.Position != i {
			t.Fatalf("song %s: expected position %d, got %d", id, i, song.Position)
		}
	}

	songs, err := st.ListSongs(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	if len(songs) != 3 || songs[0].SourceID != "a" || songs[2].SourceID != "c" {
		t.Fatalf("unexpected canonical order: %+v", songs)
	}
}

func TestReorderSongsRewritesPositions(t *testing.T) {
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)
	a := appendSong(t, st, sess.ID, host.ID, "a")
	b := appendSong(t, st, sess.ID, host.ID, "b")
	c := appendSong(t, st, sess.ID, host.ID, "c")

	if err := st.ReorderSongs(context.Background(), sess.ID, []string{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	songs, err := st.ListSongs(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("list songs: %v", err)
	}
	for i, want := range []string{c.ID, a.ID, b.ID} {
		if songs[i].ID != want || songs[i].Position != i {
			t.Fatalf("slot %d: got %s@%d, want %s@%d", i, songs[i].ID, songs[i].Position, want, i)
		}
	}

	if err := st.ReorderSongs(context.Background(), sess.ID, []string{a.ID, b.ID}); err == nil {
		t.Fatal("expected partial reorder to be rejected")
	}
	if err := st.ReorderSongs(context.Background(), sess.ID, []string{a.ID, a.ID, b.ID}); err == nil {
		t.Fatal("expected repeated ids to be rejected")
	}
	if songs, _ := st.ListSongs(context.Background(), sess.ID); songs[0].ID != c.ID {
		t.Fatalf("rejected reorder changed the queue: %+v", songs)
	}
}

func TestScoreUniquenessAndStats(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)
	song := appendSong(t, st, sess.ID, host.ID, "a")

	first := &models.Score{SessionID: sess.ID, SongID: song.ID, ParticipantID: "p2", Rating: 5}
	if err := st.InsertScore(ctx, first); err != nil {
		t.Fatalf("insert score: %v", err)
	}
	err := st.InsertScore(ctx, &models.Score{SessionID: sess.ID, SongID: song.ID, ParticipantID: "p2", Rating: 1})
	if !errors.Is(err, store.ErrDuplicate) || !store.IsDuplicate(err) {
		t.Fatalf("expected duplicate score to fail with ErrDuplicate, got %v", err)
	}

	stats, err := st.SongStats(ctx, song.ID)
	if err != nil {
		t.Fatalf("song stats: %v", err)
	}
	if stats.Average != 5.0 || stats.Count != 1 {
		t.Fatalf("expected average 5.0 over 1 score, got %+v", stats)
	}

	if err := st.InsertScore(ctx, &models.Score{SessionID: sess.ID, SongID: song.ID, ParticipantID: "p3", Rating: 2}); err != nil {
		t.Fatalf("insert second score: %v", err)
	}
	all, err := st.SessionSongStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("session stats: %v", err)
	}
	if got := all[song.ID]; got.Count != 2 || got.Average != 3.5 {
		t.Fatalf("unexpected aggregate: %+v", got)
	}
}

func TestDeleteMissingSkipVoteIsNoop(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)
	song := appendSong(t, st, sess.ID, host.ID, "a")

	removed, err := st.DeleteSkipVote(ctx, sess.ID, song.ID, "nobody")
	if err != nil || removed != nil {
		t.Fatalf("expected no-op, got %v %v", removed, err)
	}

	if err := st.InsertSkipVote(ctx, &models.SkipVote{SessionID: sess.ID, SongID: song.ID, ParticipantID: "p2"}); err != nil {
		t.Fatalf("insert vote: %v", err)
	}
	err = st.InsertSkipVote(ctx, &models.SkipVote{SessionID: sess.ID, SongID: song.ID, ParticipantID: "p2"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate vote to fail, got %v", err)
	}
	removed, err = st.DeleteSkipVote(ctx, sess.ID, song.ID, "p2")
	if err != nil || removed == nil {
		t.Fatalf("expected vote removal, got %v %v", removed, err)
	}
}

func TestCreditKarmaKeepsRunningSum(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)

	for _, delta := range []int{4, 3} {
		if err := st.CreditKarma(ctx, &models.KarmaEntry{SessionID: sess.ID, ParticipantID: host.ID, Delta: delta, Reason: "score"}); err != nil {
			t.Fatalf("credit karma: %v", err)
		}
	}
	p, err := st.GetParticipant(ctx, sess.ID, host.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.Karma != 7 {
		t.Fatalf("expected karma 7, got %d", p.Karma)
	}
	ledger, err := st.ListKarma(ctx, sess.ID)
	if err != nil || len(ledger) != 2 {
		t.Fatalf("expected two ledger entries, got %d (%v)", len(ledger), err)
	}

	err = st.CreditKarma(ctx, &models.KarmaEntry{SessionID: sess.ID, ParticipantID: "ghost", Delta: 1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown participant, got %v", err)
	}
}

func TestDeleteSessionRemovesChildren(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)
	appendSong(t, st, sess.ID, host.ID, "a")

	if err := st.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := st.GetSession(ctx, sess.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if n, _ := st.CountSongs(ctx, sess.ID); n != 0 {
		t.Fatalf("expected songs deleted, %d left", n)
	}
}

func TestListChatReturnsLatestOldestFirst(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.New(t)
	sess, host := seedSession(t, st)

	base := time.Now().UTC()
	for i, text := range []string{"one", "two", "three"} {
		msg := &models.ChatMessage{SessionID: sess.ID, ParticipantID: host.ID, Message: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := st.InsertChat(ctx, msg); err != nil {
			t.Fatalf("insert chat: %v", err)
		}
	}
	msgs, err := st.ListChat(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Message != "two" || msgs[1].Message != "three" {
		t.Fatalf("unexpected chat window: %+v", msgs)
	}
}
