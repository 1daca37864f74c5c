/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package client talks to a listenparty server over its HTTP API and
// session websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/listenparty/internal/api"
	"github.com/friendsincode/listenparty/internal/catalog"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/party"
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("listenparty api: %d %s", e.Status, e.Code)
}

// Unwrap maps known codes back to the party sentinels.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

var codeErrors = map[string]error{
	"session_not_found":     party.ErrSessionNotFound,
	"participant_not_found": party.ErrParticipantNotFound,
	"song_not_found":        party.ErrSongNotFound,
	"not_host":              party.ErrNotHost,
	"session_finished":      party.ErrSessionFinished,
	"session_expired":       party.ErrSessionExpired,
	"session_full":          party.ErrSessionFull,
	"not_playing":           party.ErrNotPlaying,
	"empty_queue":           party.ErrEmptyQueue,
	"song_too_long":         party.ErrSongTooLong,
	"duplicate_song":        party.ErrDuplicateSong,
	"queue_full":            party.ErrQueueFull,
	"not_current_song":      party.ErrNotCurrentSong,
	"skip_not_available":    party.ErrSkipNotAvailable,
}

// Client is an authenticated API client for one participant.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger

	mu    sync.RWMutex
	token string
	self  *models.Participant
}

// New creates a client for the server at baseURL.
func New(baseURL string, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil

	c := &Client{
		base:   u,
		http:   retryClient.StandardClient(),
		logger: logger.With().Str("component", "client").Logger(),
	}
	c.http.Timeout = 15 * time.Second
	return c, nil
}

// SetToken authenticates later calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Self returns the participant this client joined as.
func (c *Client) Self() *models.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Code: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func sessionPath(sessionID string, parts ...string) string {
	p := "/api/v1/sessions/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) remember(res *api.SessionResponse) {
	c.mu.Lock()
	c.token = res.Token
	c.self = res.Participant
	c.mu.Unlock()
}

// CreateSession creates a session and authenticates as its host.
func (c *Client) CreateSession(ctx context.Context, req party.CreateSessionRequest) (*api.SessionResponse, error) {
	var res api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &res); err != nil {
		return nil, err
	}
	c.remember(&res)
	return &res, nil
}

// Join joins by code and authenticates as the new participant.
func (c *Client) Join(ctx context.Context, code, displayName, userID string) (*api.SessionResponse, error) {
	var res api.SessionResponse
	req := api.JoinRequest{Code: code, DisplayName: displayName, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/join", req, &res); err != nil {
		return nil, err
	}
	c.remember(&res)
	return &res, nil
}

// Snapshot loads the full session state.
func (c *Client) Snapshot(ctx context.Context, sessionID string) (*party.Snapshot, error) {
	var out party.Snapshot
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession loads the session row.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return snap.Session, nil
}

// ListParticipants returns participants by join time.
func (c *Client) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var out []models.Participant
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "participants"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSongs returns the queue by position.
func (c *Client) ListSongs(ctx context.Context, sessionID string) ([]models.Song, error) {
	var out []models.Song
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "songs"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListScores returns every score in the session.
func (c *Client) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	var out []models.Score
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "scores"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSkipVotes returns the votes against songID.
func (c *Client) ListSkipVotes(ctx context.Context, sessionID, songID string) ([]models.SkipVote, error) {
	var out api.SkipVotesResponse
	path := sessionPath(sessionID, "skip-votes") + "?song_id=" + url.QueryEscape(songID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Votes, nil
}

// ListChat returns the latest chat lines, oldest first.
func (c *Client) ListChat(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	path := sessionPath(sessionID, "chat") + "?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start begins playback.
func (c *Client) Start(ctx context.Context, sessionID string, shuffle bool) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "start"), api.StartRequest{Shuffle: shuffle}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Advance moves past the song at fromIndex.
func (c *Client) Advance(ctx context.Context, sessionID string, fromIndex int) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "advance"), api.AdvanceRequest{FromIndex: &fromIndex}, nil)
}

// SongEnded reports that the song at songIndex finished playing.
func (c *Client) SongEnded(ctx context.Context, sessionID string, songIndex int) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "ended"), api.EndedRequest{SongIndex: &songIndex}, nil)
}

// Finish ends the session.
func (c *Client) Finish(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "finish"), nil, nil)
}

// AddSong queues a song.
func (c *Client) AddSong(ctx context.Context, sessionID string, req party.AddSongRequest) (*models.Song, error) {
	var out models.Song
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "songs"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCandidate queues a catalog search hit.
func (c *Client) AddCandidate(ctx context.Context, sessionID string, cand catalog.Candidate) (*models.Song, error) {
	return c.AddSong(ctx, sessionID, party.AddSongRequest{
		Title:           cand.Title,
		Artist:          cand.Artist,
		AlbumArt:        cand.Thumbnail,
		DurationSeconds: cand.DurationSeconds,
		Source:          catalog.Source,
		SourceID:        cand.ID,
	})
}

// Search queries the song catalog.
func (c *Client) Search(ctx context.Context, query string) ([]catalog.Candidate, error) {
	var out struct {
		Results []catalog.Candidate `json:"results"`
	}
	path := "/api/v1/catalog/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Score rates a song 1..5.
func (c *Client) Score(ctx context.Context, sessionID, songID string, rating int) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "songs", songID, "scores"), api.ScoreRequest{Rating: rating}, nil)
}

// SkipVote votes to skip the current song.
func (c *Client) SkipVote(ctx context.Context, sessionID, songID string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "songs", songID, "skip-votes"), nil, nil)
}

// WithdrawSkipVote removes a skip vote.
func (c *Client) WithdrawSkipVote(ctx context.Context, sessionID, songID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, "songs", songID, "skip-votes"), nil, nil)
}

// React toggles an emoji on a song.
func (c *Client) React(ctx context.Context, sessionID, songID, emoji string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "songs", songID, "reactions"), api.ReactionRequest{Emoji: emoji}, nil)
}

// Chat sends a chat message.
func (c *Client) Chat(ctx context.Context, sessionID, message string) error {
	return c.do(ctx, http.MethodPost, sessionPath(sessionID, "chat"), api.ChatRequest{Message: message}, nil)
}

// IsAuthError reports whether err is a rejected token.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden && apiErr.Code == "wrong_session")
}
