/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/listenparty/internal/auth"
	"github.com/friendsincode/listenparty/internal/catalog"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/store"
)

// Searcher looks songs up in the catalog.
type Searcher interface {
	Search(ctx context.Context, query string) ([]catalog.Candidate, error)
}

// API exposes HTTP handlers.
type API struct {
	svc      *party.Service
	ctrl     *party.Controller
	broker   events.Broker
	feed     store.ChangeFeed
	presence *presence.Tracker
	catalog  Searcher

	jwtSecret    []byte
	tokenTTL     time.Duration
	pingInterval time.Duration
	logger       zerolog.Logger
}

// Option configures the API.
type Option func(*API)

// WithCatalog enables song search.
func WithCatalog(s Searcher) Option {
	return func(a *API) { a.catalog = s }
}

// WithPingInterval overrides the websocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(a *API) { a.pingInterval = d }
}

// New creates the API router wrapper.
func New(svc *party.Service, broker events.Broker, feed store.ChangeFeed, tracker *presence.Tracker, jwtSecret []byte, tokenTTL time.Duration, logger zerolog.Logger, opts ...Option) *API {
	a := &API{
		svc:          svc,
		ctrl:         svc.Controller(),
		broker:       broker,
		feed:         feed,
		presence:     tracker,
		jwtSecret:    jwtSecret,
		tokenTTL:     tokenTTL,
		pingInterval: 15 * time.Second,
		logger:       logger.With().Str("component", "api").Logger(),
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 24 * time.Hour
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes registers every endpoint under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Post("/sessions", a.handleCreateSession)
		r.Post("/sessions/join", a.handleJoin)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/catalog/search", a.handleCatalogSearch)

			pr.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Use(a.requireSession)

				r.Get("/", a.handleSnapshot)
				r.Get("/participants", a.handleParticipants)
				r.Get("/songs", a.handleSongs)
				r.Get("/scores", a.handleScores)
				r.Get("/skip-votes", a.handleSkipVotes)
				r.Get("/reactions", a.handleReactions)
				r.Get("/chat", a.handleChatList)
				r.Get("/ws", a.handleSocket)

				r.Post("/start", a.handleStart)
				r.Post("/advance", a.handleAdvance)
				r.Post("/ended", a.handleEnded)
				r.Post("/finish", a.handleFinish)

				r.Post("/songs", a.handleAddSong)
				r.Put("/songs/order", a.handleReorder)
				r.Route("/songs/{songID}", func(r chi.Router) {
					r.Delete("/", a.handleRemoveSong)
					r.Post("/scores", a.handleScore)
					r.Post("/skip-votes", a.handleSkipVote)
					r.Delete("/skip-votes", a.handleSkipUnvote)
					r.Post("/reactions", a.handleReaction)
				})
				r.Post("/chat", a.handleChatSend)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSession rejects tokens issued for another session.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := claims.ForSession(chi.URLParam(r, "sessionID")); err != nil {
			writeError(w, http.StatusForbidden, "wrong_session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor returns the authenticated participant and session ids.
func actor(r *http.Request) (sessionID, participantID string) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims.SessionID, claims.ParticipantID
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{party.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{party.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{party.ErrSongNotFound, http.StatusNotFound, "song_not_found"},
	{party.ErrNotHost, http.StatusForbidden, "not_host"},
	{party.ErrForbidden, http.StatusForbidden, "forbidden"},
	{party.ErrOwnSong, http.StatusForbidden, "own_song"},
	{party.ErrSessionExpired, http.StatusGone, "session_expired"},
	{party.ErrSessionFinished, http.StatusConflict, "session_finished"},
	{party.ErrSessionFull, http.StatusConflict, "session_full"},
	{party.ErrNotPlaying, http.StatusConflict, "not_playing"},
	{party.ErrEmptyQueue, http.StatusConflict, "empty_queue"},
	{party.ErrDuplicateSong, http.StatusConflict, "duplicate_song"},
	{party.ErrQueueFull, http.StatusConflict, "queue_full"},
	{party.ErrSongLocked, http.StatusConflict, "song_locked"},
	{party.ErrNotCurrentSong, http.StatusConflict, "not_current_song"},
	{party.ErrSkipNotAvailable, http.StatusConflict, "skip_not_available"},
	{party.ErrSongTooLong, http.StatusUnprocessableEntity, "song_too_long"},
	{party.ErrInvalidSong, http.StatusBadRequest, "invalid_song"},
	{party.ErrInvalidRating, http.StatusBadRequest, "invalid_rating"},
	{party.ErrInvalidReaction, http.StatusBadRequest, "invalid_reaction"},
	{party.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
	{party.ErrMessageTooLong, http.StatusBadRequest, "message_too_long"},
	{party.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{party.ErrJoinCodeExhausted, http.StatusServiceUnavailable, "join_code_exhausted"},
	{catalog.ErrNotConfigured, http.StatusServiceUnavailable, "catalog_unavailable"},
}

// writeServiceError maps domain errors to status codes. Anything unknown is
// logged and reported as internal_error.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code)
			return
		}
	}
	a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error")
}
