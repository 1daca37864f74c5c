/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/listenparty/internal/catalog"
	"github.com/friendsincode/listenparty/internal/party"
)

// ReorderRequest is the full new queue order.
type ReorderRequest struct {
	SongIDs []string `json:"song_ids"`
}

// ScoreRequest rates a song.
type ScoreRequest struct {
	Rating int `json:"rating"`
}

// ReactionRequest toggles an emoji.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ChatRequest sends a chat line.
type ChatRequest struct {
	Message string `json:"message"`
}

func (a *API) handleAddSong(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req party.AddSongRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.SessionID = sessionID
	req.ParticipantID = participantID
	song, err := a.svc.AddSong(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (a *API) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	if err := a.svc.RemoveSong(r.Context(), sessionID, songParam(r), participantID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReorder(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req ReorderRequest
	if err := decode(w, r, &req); err != nil || len(req.SongIDs) == 0 {
		writeError(w, http.StatusBadRequest, "song_ids_required")
		return
	}
	if err := a.svc.ReorderSongs(r.Context(), sessionID, participantID, req.SongIDs); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	songs, err := a.svc.ListSongs(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

func (a *API) handleScore(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req ScoreRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	score, err := a.svc.CastScore(r.Context(), sessionID, songParam(r), participantID, req.Rating)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (a *API) handleSkipVote(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	vote, added, err := a.svc.AddSkipVote(r.Context(), sessionID, songParam(r), participantID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vote": vote, "added": added})
}

func (a *API) handleSkipUnvote(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	removed, err := a.svc.RemoveSkipVote(r.Context(), sessionID, songParam(r), participantID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (a *API) handleReaction(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req ReactionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	active, err := a.svc.ToggleReaction(r.Context(), sessionID, songParam(r), participantID, req.Emoji)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (a *API) handleChatSend(w http.ResponseWriter, r *http.Request) {
	sessionID, participantID := actor(r)
	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	msg, err := a.svc.SendChat(r.Context(), sessionID, participantID, req.Message)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// handleCatalogSearch marks candidates that cannot be queued in the
// caller's session.
func (a *API) handleCatalogSearch(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable")
		return
	}
	sessionID, _ := actor(r)
	results, err := a.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	queue, err := a.svc.ListSongs(r.Context(), sessionID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	type hit struct {
		catalog.Candidate
		Rejected string `json:"rejected,omitempty"`
	}
	out := make([]hit, 0, len(results))
	for _, c := range results {
		h := hit{Candidate: c}
		switch err := catalog.Validate(c, queue); err {
		case nil:
		case catalog.ErrTooLong:
			h.Rejected = "song_too_long"
		case catalog.ErrAlreadyQueued:
			h.Rejected = "duplicate_song"
		}
		out = append(out, h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
