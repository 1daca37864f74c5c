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

func collect(t *testing.T, feed store.ChangeFeed, table, sessionID string) (<-chan store.Change, func()) {
	t.Helper()
	ch := make(chan store.Change, 64)
	cancel := feed.OnChange(table, sessionID, func(c store.Change) { ch <- c })
	return ch, cancel
}

func next(t *testing.T, ch <-chan store.Change) store.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return store.Change{}
	}
}

func TestMemoryFeedFiltersByTableAndSession(t *testing.T) {
	feed := store.NewMemoryFeed()
	defer feed.Close()

	songs, cancelSongs := collect(t, feed, store.TableSongs, "s1")
	defer cancelSongs()
	all, cancelAll := collect(t, feed, "", "")
	defer cancelAll()

	feed.Emit(store.Change{Table: store.TableScores, Op: store.OpInsert, SessionID: "s1"})
	feed.Emit(store.Change{Table: store.TableSongs, Op: store.OpInsert, SessionID: "s2"})
	feed.Emit(store.Change{Table: store.TableSongs, Op: store.OpUpdate, SessionID: "s1"})

	got := next(t, songs)
	if got.Table != store.TableSongs || got.SessionID != "s1" || got.Op != store.OpUpdate {
		t.Fatalf("unexpected change: %+v", got)
	}
	select {
	case extra := <-songs:
		t.Fatalf("filtered subscriber got extra change %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	for i, wantTable := range []string{store.TableScores, store.TableSongs, store.TableSongs} {
		if c := next(t, all); c.Table != wantTable {
			t.Fatalf("change %d: expected %s, got %s", i, wantTable, c.Table)
		}
	}
}

func TestMemoryFeedResyncReachesSessionSubscribers(t *testing.T) {
	feed := store.NewMemoryFeed()
	defer feed.Close()

	ch, cancel := collect(t, feed, store.TableSongs, "s1")
	defer cancel()

	feed.Emit(store.Change{Op: store.OpResync})
	if c := next(t, ch); c.Op != store.OpResync {
		t.Fatalf("expected resync, got %+v", c)
	}
}

func TestMemoryFeedCancelStopsDelivery(t *testing.T) {
	feed := store.NewMemoryFeed()
	defer feed.Close()

	ch, cancel := collect(t, feed, "", "")
	cancel()
	cancel()

	feed.Emit(store.Change{Table: store.TableSongs, SessionID: "s1"})
	select {
	case c := <-ch:
		t.Fatalf("cancelled subscriber got %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStoreEmitsAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	st, feed := storetest.New(t)
	sess, host := seedSession(t, st)

	ch, cancel := collect(t, feed, store.TableSongs, sess.ID)
	defer cancel()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx *store.Store) error {
		song := &models.Song{SessionID: sess.ID, Title: "rolled back", Source: "catalog", SourceID: "x", AddedBy: host.ID}
		if err := tx.AppendSong(ctx, song); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected tx error, got %v", err)
	}
	select {
	case c := <-ch:
		t.Fatalf("rolled back write emitted %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	song := appendSong(t, st, sess.ID, host.ID, "y")
	c := next(t, ch)
	if c.Op != store.OpInsert {
		t.Fatalf("expected insert, got %s", c.Op)
	}
	var decoded models.Song
	if err := c.Decode(&decoded); err != nil {
		t.Fatalf("decode change: %v", err)
	}
	if decoded.ID != song.ID || decoded.Position != 0 {
		t.Fatalf("unexpected decoded row: %+v", decoded)
	}
}

func TestDeleteChangeCarriesOldRow(t *testing.T) {
	ctx := context.Background()
	st, feed := storetest.New(t)
	sess, host := seedSession(t, st)
	song := appendSong(t, st, sess.ID, host.ID, "a")

	if err := st.InsertSkipVote(ctx, &models.SkipVote{SessionID: sess.ID, SongID: song.ID, ParticipantID: host.ID}); err != nil {
		t.Fatalf("insert vote: %v", err)
	}

	ch, cancel := collect(t, feed, store.TableSkipVotes, sess.ID)
	defer cancel()

	if _, err := st.DeleteSkipVote(ctx, sess.ID, song.ID, host.ID); err != nil {
		t.Fatalf("delete vote: %v", err)
	}
	c := next(t, ch)
	if c.Op != store.OpDelete || len(c.New) != 0 {
		t.Fatalf("unexpected delete change: %+v", c)
	}
	var vote models.SkipVote
	if err := c.Decode(&vote); err != nil || vote.ParticipantID != host.ID {
		t.Fatalf("expected old row in delete change, got %+v (%v)", vote, err)
	}
}
