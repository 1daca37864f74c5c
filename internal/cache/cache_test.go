package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestUnavailableRedisAlwaysMisses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	c := New(cfg, zerolog.Nop())
	defer c.Close()

	if c.IsAvailable() {
		t.Fatal("expected cache to be unavailable")
	}
	c.StoreJoinCode(context.Background(), "ABC123", "session-1")
	if _, ok := c.LookupJoinCode(context.Background(), "abc123"); ok {
		t.Fatal("expected miss from unavailable cache")
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	cfg := DefaultConfig()
	cfg.RetryAfter = time.Minute
	c := NewWithClient(client, cfg, zerolog.Nop())
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if !c.IsAvailable() {
		t.Fatal("expected fresh cache to be available")
	}
	if _, ok := c.LookupJoinCode(context.Background(), "ABC123"); ok {
		t.Fatal("expected miss on redis error")
	}
	if c.IsAvailable() {
		t.Fatal("expected breaker to open after an error")
	}

	now = now.Add(2 * time.Minute)
	if !c.IsAvailable() {
		t.Fatal("expected breaker to close after retry window")
	}
}

func TestJoinCodeKeyIgnoresCase(t *testing.T) {
	if joinCodeKey(" abc123 ") != joinCodeKey("ABC123") {
		t.Fatal("expected keys to match regardless of case and spacing")
	}
}
