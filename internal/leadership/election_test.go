package leadership

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewElectionFailsWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewElection(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected election to fail without Redis")
	}
}

func TestDefaultsFillBlankConfig(t *testing.T) {
	e := NewElectionWithClient(nil, ElectionConfig{}, zerolog.Nop())
	if e.config.ElectionKey != defaultElectionKey {
		t.Fatalf("unexpected key %q", e.config.ElectionKey)
	}
	if e.config.LeaseDuration != defaultLeaseDuration || e.config.RenewalInterval != defaultRenewalInterval {
		t.Fatalf("unexpected timings %+v", e.config)
	}
	if e.InstanceID() == "" {
		t.Fatal("expected generated instance id")
	}
	if e.IsLeader() {
		t.Fatal("new election must not claim leadership")
	}
}

func TestAlwaysLeads(t *testing.T) {
	var l Leader = Always{}
	if !l.IsLeader() {
		t.Fatal("expected Always to lead")
	}
}
