package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LISTENPARTY_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.DBBackend)
	}
	if cfg.JWTSigningKey == "" {
		t.Fatal("expected development signing key to be filled in")
	}
	if cfg.Party.MaxSongDuration != 360*time.Second {
		t.Fatalf("unexpected max song duration: %v", cfg.Party.MaxSongDuration)
	}
	if cfg.Party.SkipThreshold != 0.5 {
		t.Fatalf("unexpected skip threshold: %v", cfg.Party.SkipThreshold)
	}
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("LISTENPARTY_DB_BACKEND", "postgres")
	t.Setenv("LISTENPARTY_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("LISTENPARTY_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("LISTENPARTY_JANITOR_INTERVAL", "45")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.JanitorInterval != 45*time.Second {
		t.Fatalf("expected bare seconds to parse, got %v", cfg.JanitorInterval)
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("LISTENPARTY_ENV", "production")
	t.Setenv("LISTENPARTY_JWT_SIGNING_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("LISTENPARTY_JWT_SIGNING_KEY", "prod-key")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with key to succeed: %v", err)
	}
}

func TestLoadRejectsRedisBusWithoutAddr(t *testing.T) {
	t.Setenv("LISTENPARTY_EVENT_BUS", "redis")
	t.Setenv("LISTENPARTY_REDIS_ADDR", "")
	t.Setenv("REDIS_ADDR", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected redis event bus without address to fail")
	}
}

func TestLoadAppliesPartyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listenparty.yaml")
	body := "party:\n  skip_threshold: 0.75\n  drift_threshold: 2s\n  max_participants: 8\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("LISTENPARTY_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Party.SkipThreshold != 0.75 {
		t.Fatalf("expected overlay threshold, got %v", cfg.Party.SkipThreshold)
	}
	if cfg.Party.DriftThreshold != 2*time.Second {
		t.Fatalf("expected overlay drift threshold, got %v", cfg.Party.DriftThreshold)
	}
	if cfg.Party.MaxParticipants != 8 {
		t.Fatalf("expected overlay participant limit, got %d", cfg.Party.MaxParticipants)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Party.MaxQueueSize != 100 {
		t.Fatalf("expected default queue size, got %d", cfg.Party.MaxQueueSize)
	}
}

func TestLoadRejectsInvalidSkipThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("party:\n  skip_threshold: 1.5\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("LISTENPARTY_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected threshold above 1 to be rejected")
	}
}
