package janitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/janitor"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/store/storetest"
	"github.com/rs/zerolog"
)

var testNow = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

type recordingArchiver struct {
	st  *store.Store
	mu  sync.Mutex
	ids []string
	err error
}

func (a *recordingArchiver) Archive(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.ids = append(a.ids, sessionID)
	return a.st.MarkArchived(ctx, sessionID, testNow)
}

type codeCache struct {
	forgotten []string
}

func (c *codeCache) LookupJoinCode(context.Context, string) (string, bool) { return "", false }
func (c *codeCache) StoreJoinCode(context.Context, string, string)         {}
func (c *codeCache) ForgetJoinCode(_ context.Context, code string) {
	c.forgotten = append(c.forgotten, code)
}

func setup(t *testing.T) (*store.Store, *party.Controller, *party.Service) {
	t.Helper()
	st, _ := storetest.New(t)
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	now := func() time.Time { return testNow }
	ctrl := party.NewController(st, bus, zerolog.Nop(), party.WithClock(now))
	svc := party.NewService(st, bus, ctrl, config.DefaultPartyDefaults(), zerolog.Nop(), party.WithServiceClock(now))
	return st, ctrl, svc
}

func TestSweepExpiresArchivesThenDeletes(t *testing.T) {
	st, ctrl, svc := setup(t)
	ctx := context.Background()

	idle, _, err := svc.CreateSession(ctx, party.CreateSessionRequest{HostName: "idle"})
	if err != nil {
		t.Fatalf("create idle session: %v", err)
	}
	fresh, _, err := svc.CreateSession(ctx, party.CreateSessionRequest{HostName: "fresh"})
	if err != nil {
		t.Fatalf("create fresh session: %v", err)
	}
	if err := st.UpdateSession(ctx, idle, map[string]any{"expires_at": testNow.Add(-time.Minute)}); err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}

	clock := testNow
	codes := &codeCache{}
	arch := &recordingArchiver{st: st}
	j := janitor.New(st, ctrl, janitor.Config{RetainFinished: time.Hour}, zerolog.Nop(),
		janitor.WithArchiver(arch),
		janitor.WithJoinCodeCache(codes),
		janitor.WithClock(func() time.Time { return clock }),
	)

	res := j.Sweep(ctx)
	if res.Expired != 1 || res.Archived != 1 || res.Deleted != 0 {
		t.Fatalf("unexpected first sweep: %+v", res)
	}
	got, err := st.GetSession(ctx, idle.ID)
	if err != nil {
		t.Fatalf("reload idle: %v", err)
	}
	if got.Status != models.StatusFinished || got.ArchivedAt == nil {
		t.Fatalf("expected idle session finished and archived, got %+v", got)
	}
	if len(codes.forgotten) != 1 || codes.forgotten[0] != idle.JoinCode {
		t.Fatalf("expected join code %s forgotten, got %v", idle.JoinCode, codes.forgotten)
	}
	if len(arch.ids) != 1 || arch.ids[0] != idle.ID {
		t.Fatalf("unexpected archived ids %v", arch.ids)
	}

	clock = testNow.Add(2 * time.Hour)
	res = j.Sweep(ctx)
	if res.Deleted != 1 {
		t.Fatalf("expected archived session to be deleted, got %+v", res)
	}
	if _, err := st.GetSession(ctx, idle.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected idle session gone, got %v", err)
	}
	if _, err := st.GetSession(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}

func TestSweepLeavesSessionUnarchivedWhenArchiverFails(t *testing.T) {
	st, ctrl, svc := setup(t)
	ctx := context.Background()

	sess, host, err := svc.CreateSession(ctx, party.CreateSessionRequest{HostName: "host"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := ctrl.Finish(ctx, sess.ID, host.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	arch := &recordingArchiver{st: st, err: errors.New("bucket unavailable")}
	j := janitor.New(st, ctrl, janitor.Config{}, zerolog.Nop(),
		janitor.WithArchiver(arch),
		janitor.WithClock(func() time.Time { return testNow }),
	)
	if res := j.Sweep(ctx); res.Archived != 0 {
		t.Fatalf("expected no archive, got %+v", res)
	}
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ArchivedAt != nil {
		t.Fatal("session must stay unarchived so the next sweep retries")
	}

	arch.err = nil
	if res := j.Sweep(ctx); res.Archived != 1 {
		t.Fatalf("expected retry to archive, got %+v", res)
	}
}

func TestSweepWithoutArchiverOnlyStamps(t *testing.T) {
	st, ctrl, svc := setup(t)
	ctx := context.Background()

	sess, host, err := svc.CreateSession(ctx, party.CreateSessionRequest{HostName: "host"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := ctrl.Finish(ctx, sess.ID, host.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	j := janitor.New(st, ctrl, janitor.Config{}, zerolog.Nop(), janitor.WithClock(func() time.Time { return testNow }))
	if res := j.Sweep(ctx); res.Archived != 1 || res.Deleted != 0 {
		t.Fatalf("unexpected sweep: %+v", res)
	}
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.ArchivedAt == nil {
		t.Fatal("expected archived_at stamp")
	}
}
