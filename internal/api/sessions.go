/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/listenparty/internal/auth"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/party"
)

// SessionResponse is returned by create and join.
type SessionResponse struct {
	Session     *models.Session     `json:"session"`
	Participant *models.Participant `json:"participant"`
	Token       string              `json:"token"`
}

// JoinRequest joins a session by code.
type JoinRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id,omitempty"`
}

// StartRequest starts playback.
type StartRequest struct {
	Shuffle bool `json:"shuffle"`
}

// AdvanceRequest names the index the caller believes is playing.
type AdvanceRequest struct {
	FromIndex *int `json:"from_index"`
}

// EndedRequest reports that the song at SongIndex finished.
type EndedRequest struct {
	SongIndex *int `json:"song_index"`
}

// SkipVotesResponse lists the votes against one song.
type SkipVotesResponse struct {
	SongID string            `json:"song_id"`
	Votes  []models.SkipVote `json:"votes"`
}

func (a *API) issue(w http.ResponseWriter, r *http.Request, status int, sess *models.Session, p *models.Participant) {
	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		IsHost:        p.IsHost,
	}, a.tokenTTL)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, SessionResponse{Session: sess, Participant: p, Token: token})
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req party.CreateSessionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sess, host, err := a.svc.CreateSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.issue(w, r, http.StatusCreated, sess, host)
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := decode(w, r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sess, p, err := a.svc.Join(r.Context(), req.Code, req.DisplayName, req.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.issue(w, r, http.StatusOK, sess, p)
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	snap, err := a.svc.Snapshot(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleParticipants(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	out, err := a.svc.ListParticipants(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSongs(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	out, err := a.svc.ListSongs(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleScores(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	out, err := a.svc.ListScores(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSkipVotes lists votes for ?song_id, or for the current song.
func (a *API) handleSkipVotes(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	songID := r.URL.Query().Get("song_id")
	if songID == "" {
		tally, playing, err := a.svc.SkipStatus(r.Context(), sessionID)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		if !playing {
			writeJSON(w, http.StatusOK, SkipVotesResponse{Votes: []models.SkipVote{}})
			return
		}
		songID = tally.SongID
	}
	votes, err := a.svc.ListSkipVotes(r.Context(), sessionID, songID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SkipVotesResponse{SongID: songID, Votes: votes})
}

func (a *API) handleReactions(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	songID := r.URL.Query().Get("song_id")
	if songID == "" {
		writeError(w, http.StatusBadRequest, "song_id_required")
		return
	}
	out, err := a.svc.ListReactions(r.Context(), sessionID, songID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleChatList(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := actor(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := a.svc.ListChat(r.Context(), sessionID, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req StartRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sess, err := a.ctrl.Start(r.Context(), sessionID, participantID, req.Shuffle)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req AdvanceRequest
	if err := decode(w, r, &req); err != nil || req.FromIndex == nil {
		writeError(w, http.StatusBadRequest, "from_index_required")
		return
	}
	sess, err := a.ctrl.Advance(r.Context(), sessionID, participantID, *req.FromIndex)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleEnded(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req EndedRequest
	if err := decode(w, r, &req); err != nil || req.SongIndex == nil {
		writeError(w, http.StatusBadRequest, "song_index_required")
		return
	}
	sess, err := a.ctrl.SongEnded(r.Context(), sessionID, participantID, *req.SongIndex)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleFinish(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	sess, err := a.ctrl.Finish(r.Context(), sessionID, participantID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func songParam(r *http.Request) string {
	return chi.URLParam(r, "songID")
}
