package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/rs/zerolog"
)

func TestSearchSendsQueryAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "daft punk" {
			t.Errorf("unexpected query %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []Candidate{{ID: "abc", Title: "One More Time", Artist: "Daft Punk", DurationSeconds: 320}},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "secret"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := c.Search(context.Background(), "  daft punk ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "abc" || got[0].DurationSeconds != 320 {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestSearchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Search(context.Background(), "x"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestSearchWithoutBackend(t *testing.T) {
	c, err := New(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if res, err := c.Search(context.Background(), " "); err != nil || res != nil {
		t.Fatalf("blank query should be empty, got %v %v", res, err)
	}
	if _, err := c.Search(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	queue := []models.Song{{Source: Source, SourceID: "dup"}, {Source: "upload", SourceID: "other"}}
	tests := []struct {
		name string
		c    Candidate
		want error
	}{
		{"fits", Candidate{ID: "new", DurationSeconds: 360}, nil},
		{"too long", Candidate{ID: "new", DurationSeconds: 361}, ErrTooLong},
		{"duplicate", Candidate{ID: "dup", DurationSeconds: 100}, ErrAlreadyQueued},
		{"same id other source", Candidate{ID: "other", DurationSeconds: 100}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.c, queue); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
