/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog searches an external song catalog over HTTP.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/listenparty/internal/models"
)

// Source tags songs that came from this catalog.
const Source = "catalog"

// MaxDuration is the longest song a session accepts.
const MaxDuration = 360 * time.Second

const maxResults = 25

var (
	ErrNotConfigured = errors.New("catalog not configured")
	ErrTooLong       = errors.New("song exceeds maximum duration")
	ErrAlreadyQueued = errors.New("song already queued")
)

// Candidate is one search hit.
type Candidate struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Thumbnail       string `json:"thumbnail"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Config points the client at a catalog service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the catalog.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	logger zerolog.Logger
}

// New builds a client. An empty BaseURL yields a client whose searches
// fail with ErrNotConfigured.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	c := &Client{apiKey: cfg.APIKey, logger: logger.With().Str("component", "catalog").Logger()}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse catalog url: %w", err)
		}
		c.base = u
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	c.http = retryClient.StandardClient()
	c.http.Timeout = cfg.Timeout
	if c.http.Timeout <= 0 {
		c.http.Timeout = 10 * time.Second
	}
	return c, nil
}

// Search returns candidates matching query. A blank query returns nothing.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if c.base == nil {
		return nil, ErrNotConfigured
	}

	u := *c.base
	u.Path += "/search"
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", fmt.Sprint(maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Results []Candidate `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog results: %w", err)
	}
	c.logger.Debug().Str("query", query).Int("results", len(body.Results)).Msg("catalog search")
	return body.Results, nil
}

// Validate checks a candidate against the session's queue.
func Validate(c Candidate, existing []models.Song) error {
	if time.Duration(c.DurationSeconds)*time.Second > MaxDuration {
		return ErrTooLong
	}
	for _, song := range existing {
		if song.Source == Source && song.SourceID == c.ID {
			return ErrAlreadyQueued
		}
	}
	return nil
}
