/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version reports the build version and looks up newer releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Version and Commit are set at build time:
//
//	-X github.com/friendsincode/listenparty/internal/version.Version=X.Y.Z
var (
	Version = "0.4.0"
	Commit  = "dev"
)

const latestReleaseURL = "https://api.github.com/repos/friendsincode/listenparty/releases/latest"

const maxNotes = 200

// String renders the version for logs and the version command.
func String() string {
	return fmt.Sprintf("listenparty %s (%s)", Version, Commit)
}

// Release is the newest published release.
type Release struct {
	Version string
	URL     string
	Summary string // first line of the notes
	Newer   bool   // newer than the running build
}

// LatestRelease asks GitHub for the newest listenparty release.
func LatestRelease(ctx context.Context) (*Release, error) {
	return fetchRelease(ctx, latestReleaseURL)
}

func fetchRelease(ctx context.Context, url string) (*Release, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 10 * time.Second

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "listenparty/"+Version)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup: %s", resp.Status)
	}

	var body struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	latest := strings.TrimPrefix(body.TagName, "v")
	if latest == "" {
		return nil, fmt.Errorf("release has no tag")
	}
	return &Release{
		Version: latest,
		URL:     body.HTMLURL,
		Summary: summary(body.Body),
		Newer:   Newer(latest, Version),
	}, nil
}

// Newer reports whether candidate is a higher major.minor.patch than
// current. Missing or non-numeric parts count as zero.
func Newer(candidate, current string) bool {
	a, b := triple(candidate), triple(current)
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func triple(v string) [3]int {
	var out [3]int
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	for i, part := range strings.SplitN(v, ".", 3) {
		out[i], _ = strconv.Atoi(part)
	}
	return out
}

func summary(notes string) string {
	line, _, _ := strings.Cut(notes, "\n")
	line = strings.TrimSpace(line)
	if len(line) > maxNotes {
		return line[:maxNotes-3] + "..."
	}
	return line
}
