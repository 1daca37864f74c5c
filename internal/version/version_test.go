package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewer(t *testing.T) {
	cases := []struct {
		candidate, current string
		want               bool
	}{
		{"0.4.0", "0.4.0", false},
		{"v0.5.0", "0.4.0", true},
		{"0.9.9", "1.0.0", false},
		{"1.2", "1.2.0", false},
		{"1.10.0", "1.9.3", true},
		{"0.4.1-rc.1", "0.4.0", true},
	}
	for _, tc := range cases {
		if got := Newer(tc.candidate, tc.current); got != tc.want {
			t.Fatalf("Newer(%q, %q) = %v, want %v", tc.candidate, tc.current, got, tc.want)
		}
	}
}

func TestFetchReleaseReportsNewerVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "listenparty/") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.test/r","body":"Fixes\nmore"}`))
	}))
	defer srv.Close()

	rel, err := fetchRelease(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rel.Newer || rel.Version != "99.0.0" || rel.Summary != "Fixes" {
		t.Fatalf("unexpected release %+v", rel)
	}
}

func TestFetchReleaseFailsOnMissingRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := fetchRelease(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a missing release")
	}
}

func TestSummaryKeepsFirstLine(t *testing.T) {
	if got := summary(strings.Repeat("x", 300) + "\nrest"); len(got) != maxNotes || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected summary length %d", len(got))
	}
}
