package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)
	componentLogger := Component(logger, "party")
	componentLogger.Info().Str("session_id", "s1").Msg("started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "party" || line["session_id"] != "s1" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestProductionSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)
	logger.Debug().Msg("noise")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered, got %q", buf.String())
	}
}
