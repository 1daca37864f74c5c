/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package replica holds one client's view of a session. Two update paths
// feed it: ephemeral events (fast, may be wrong) and authoritative rows from
// the record store (slow, always right). Authoritative data overrides
// anything the ephemeral path wrote for the same key.
package replica

import (
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/playback"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/skipvote"
)

const chatWindow = 100

// UpdateKind names what changed in the state.
type UpdateKind string

const (
	UpdateSession      UpdateKind = "session"
	UpdateSongChanged  UpdateKind = "song_changed"
	UpdateEnded        UpdateKind = "ended"
	UpdateSongs        UpdateKind = "songs"
	UpdateParticipants UpdateKind = "participants"
	UpdateScores       UpdateKind = "scores"
	UpdateSkipVotes    UpdateKind = "skip_votes"
	UpdateReaction     UpdateKind = "reaction"
	UpdateChat         UpdateKind = "chat"
	UpdatePresence     UpdateKind = "presence"
)

// Origin says which path produced an update.
type Origin string

const (
	OriginEphemeral     Origin = "ephemeral"
	OriginAuthoritative Origin = "authoritative"
)

// Update is delivered to OnUpdate listeners after the state changed.
type Update struct {
	Kind   UpdateKind
	Origin Origin
	Event  events.Event
}

// State is the session-scoped aggregate shared by the playback clock, the
// skip-vote machine and the presence view of one client.
type State struct {
	sessionID string
	selfID    string
	presence  *presence.View

	mu           sync.RWMutex
	session      *models.Session
	sessionAt    time.Time // UpdatedAt of the last authoritative session row
	ephemeralEnd bool      // finished only on the word of a session_ended event
	participants []models.Participant
	songs        []models.Song
	scores       map[string]models.Score
	skipSongID   string
	skipVotes    map[string]models.SkipVote // participant id -> vote
	chat         []models.ChatMessage

	listenersMu sync.Mutex
	listeners   map[int]func(Update)
	nextID      int
}

// NewState creates an empty aggregate for the session as seen by selfID.
func NewState(sessionID, selfID string) *State {
	return &State{
		sessionID: sessionID,
		selfID:    selfID,
		presence:  presence.NewView(),
		scores:    make(map[string]models.Score),
		skipVotes: make(map[string]models.SkipVote),
		listeners: make(map[int]func(Update)),
	}
}

// SessionID returns the session this state follows.
func (s *State) SessionID() string { return s.sessionID }

// SelfID returns the participant id of the local user.
func (s *State) SelfID() string { return s.selfID }

// Presence returns the presence view.
func (s *State) Presence() *presence.View { return s.presence }

// OnUpdate registers a listener. Listeners run synchronously on the
// goroutine that applied the change and must not call back into Apply.
func (s *State) OnUpdate(fn func(Update)) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *State) notify(updates ...Update) {
	if len(updates) == 0 {
		return
	}
	s.listenersMu.Lock()
	fns := make([]func(Update), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, u := range updates {
		for _, fn := range fns {
			fn(u)
		}
	}
}

// Session returns a copy of the session row, or nil before the first load.
func (s *State) Session() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// IsHost reports whether the local user hosts the session.
func (s *State) IsHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.HostID == s.selfID
}

// Finished reports whether the session reached its terminal state.
func (s *State) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.session.Status == models.StatusFinished
}

// Songs returns the queue in position order.
func (s *State) Songs() []models.Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Song(nil), s.songs...)
}

// Participants returns participants in join order.
func (s *State) Participants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Participant(nil), s.participants...)
}

// Scores returns every known score ordered by creation.
func (s *State) Scores() []models.Score {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Score, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats derives the rating aggregate of a song from the known scores.
func (s *State) Stats(songID string) models.SongStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := models.SongStats{SongID: songID}
	sum := 0
	for _, sc := range s.scores {
		if sc.SongID == songID {
			sum += sc.Rating
			st.Count++
		}
	}
	if st.Count > 0 {
		st.Average = float64(sum) / float64(st.Count)
	}
	return st
}

// SkipVotes returns the votes on the current song.
func (s *State) SkipVotes() []models.SkipVote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SkipVote, 0, len(s.skipVotes))
	for _, v := range s.skipVotes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Chat returns the recent chat lines, oldest first.
func (s *State) Chat() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage(nil), s.chat...)
}

// CurrentSong returns the playing song.
func (s *State) CurrentSong() (models.Song, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked()
}

func (s *State) currentLocked() (models.Song, bool) {
	if s.session == nil || !s.session.IsPlaying() {
		return models.Song{}, false
	}
	idx := *s.session.CurrentSongIndex
	if idx < 0 || idx >= len(s.songs) {
		return models.Song{}, false
	}
	return s.songs[idx], true
}

// NowPlaying implements playback.Source.
func (s *State) NowPlaying() (playback.NowPlaying, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowPlayingLocked()
}

func (s *State) nowPlayingLocked() (playback.NowPlaying, bool) {
	song, ok := s.currentLocked()
	if !ok || s.session.CurrentSongStartedAt == nil {
		return playback.NowPlaying{}, false
	}
	return playback.NowPlaying{
		SongID:          song.ID,
		Index:           *s.session.CurrentSongIndex,
		StartedAt:       *s.session.CurrentSongStartedAt,
		DurationSeconds: song.DurationSeconds,
	}, true
}

// SkipTally implements skipvote.Source.
func (s *State) SkipTally() (skipvote.Tally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	song, ok := s.currentLocked()
	if !ok {
		return skipvote.Tally{}, false
	}
	votes := 0
	if s.skipSongID == song.ID {
		votes = len(s.skipVotes)
	}
	return skipvote.Tally{
		SongID:       song.ID,
		SongIndex:    *s.session.CurrentSongIndex,
		Votes:        votes,
		Participants: len(s.participants),
	}, true
}

// SkipEligible reports whether the current song has played for at least
// after. It is false when nothing is playing.
func (s *State) SkipEligible(now time.Time, after time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	np, ok := s.nowPlayingLocked()
	if !ok {
		return false
	}
	return skipvote.Eligible(now.Sub(np.StartedAt), after)
}

// ApplyPresence folds a presence event into the view.
func (s *State) ApplyPresence(ev presence.Event) {
	s.presence.Apply(ev)
	s.notify(Update{Kind: UpdatePresence, Origin: OriginAuthoritative})
}

// ApplyEphemeral applies a bus event optimistically. Events that repeat
// what the state already holds change nothing and notify nobody. It returns
// the updates it produced.
func (s *State) ApplyEphemeral(ev events.Event) []Update {
	s.mu.Lock()
	kinds := s.applyEphemeralLocked(ev)
	s.mu.Unlock()

	updates := make([]Update, 0, len(kinds))
	for _, k := range kinds {
		updates = append(updates, Update{Kind: k, Origin: OriginEphemeral, Event: ev})
	}
	s.notify(updates...)
	return updates
}

func (s *State) applyEphemeralLocked(ev events.Event) []UpdateKind {
	if s.session == nil {
		return nil
	}
	finished := s.session.Status == models.StatusFinished

	switch e := ev.(type) {
	case events.SongChanged:
		if finished || e.SessionID != s.sessionID {
			return nil
		}
		if s.session.IsPlaying() && *s.session.CurrentSongIndex == e.SongIndex {
			return nil
		}
		if s.session.CurrentSongStartedAt != nil && e.StartedAt.Before(*s.session.CurrentSongStartedAt) {
			return nil
		}
		idx, started := e.SongIndex, e.StartedAt
		s.session.Status = models.StatusPlaying
		s.session.CurrentSongIndex = &idx
		s.session.CurrentSongStartedAt = &started
		s.resetSkipLocked(e.SongID)
		return []UpdateKind{UpdateSongChanged}

	case events.SessionStarted:
		if s.session.Status != models.StatusWaiting {
			return nil
		}
		idx, started := 0, e.Timestamp
		s.session.Status = models.StatusPlaying
		s.session.CurrentSongIndex = &idx
		s.session.CurrentSongStartedAt = &started
		s.resetSkipLocked(e.FirstSongID)
		return []UpdateKind{UpdateSession, UpdateSongChanged}

	case events.SessionEnded:
		if finished {
			return nil
		}
		s.session.Status = models.StatusFinished
		s.session.CurrentSongIndex = nil
		s.session.CurrentSongStartedAt = nil
		s.ephemeralEnd = true
		return []UpdateKind{UpdateEnded}

	case events.SongAdded:
		for _, song := range s.songs {
			if song.ID == e.SongID {
				return nil
			}
		}
		pos := 0
		if n := len(s.songs); n > 0 {
			pos = s.songs[n-1].Position + 1
		}
		s.songs = append(s.songs, models.Song{
			ID:        e.SongID,
			SessionID: s.sessionID,
			Title:     e.Title,
			Artist:    e.Artist,
			AddedBy:   e.AddedBy,
			Position:  pos,
			CreatedAt: e.Timestamp,
		})
		return []UpdateKind{UpdateSongs}

	case events.ScoreAdded:
		if _, ok := s.scores[e.ScoreID]; ok {
			return nil
		}
		s.scores[e.ScoreID] = models.Score{
			ID:            e.ScoreID,
			SessionID:     s.sessionID,
			SongID:        e.SongID,
			ParticipantID: e.ParticipantID,
			Rating:        e.Rating,
			CreatedAt:     e.Timestamp,
		}
		return []UpdateKind{UpdateScores}

	case events.SkipVoteAdded:
		if finished || e.SongID != s.skipSongID {
			return nil
		}
		if _, ok := s.skipVotes[e.ParticipantID]; ok {
			return nil
		}
		s.skipVotes[e.ParticipantID] = models.SkipVote{
			ID:            e.SkipVoteID,
			SessionID:     s.sessionID,
			SongID:        e.SongID,
			ParticipantID: e.ParticipantID,
			CreatedAt:     e.Timestamp,
		}
		return []UpdateKind{UpdateSkipVotes}

	case events.SkipVoteRemoved:
		if e.SongID != s.skipSongID {
			return nil
		}
		if _, ok := s.skipVotes[e.ParticipantID]; !ok {
			return nil
		}
		delete(s.skipVotes, e.ParticipantID)
		return []UpdateKind{UpdateSkipVotes}

	case events.ChatMessage:
		if s.appendChatLocked(chatFromEvent(s.sessionID, e)) {
			return []UpdateKind{UpdateChat}
		}
		return nil

	case events.SongReaction:
		return []UpdateKind{UpdateReaction}
	}
	return nil
}

// resetSkipLocked scopes the skip votes to a new current song.
func (s *State) resetSkipLocked(songID string) {
	if s.skipSongID == songID {
		return
	}
	s.skipSongID = songID
	s.skipVotes = make(map[string]models.SkipVote)
}

func (s *State) appendChatLocked(msg models.ChatMessage) bool {
	for _, m := range s.chat {
		if m.ID == msg.ID {
			return false
		}
	}
	s.chat = append(s.chat, msg)
	if len(s.chat) > chatWindow {
		s.chat = append([]models.ChatMessage(nil), s.chat[len(s.chat)-chatWindow:]...)
	}
	return true
}

func chatFromEvent(sessionID string, e events.ChatMessage) models.ChatMessage {
	msg := models.ChatMessage{
		ID:            e.ID,
		SessionID:     sessionID,
		ParticipantID: e.ParticipantID,
		Message:       e.Message,
		CreatedAt:     e.Timestamp,
	}
	if e.SongID != "" {
		id := e.SongID
		msg.SongID = &id
	}
	return msg
}

// SetSession applies an authoritative session row. Rows older than the last
// authoritative one are stale reads and are dropped, and a finished session
// never goes back. It reports whether the current song changed.
func (s *State) SetSession(sess *models.Session) bool {
	if sess == nil {
		return false
	}
	s.mu.Lock()
	if s.session != nil && !s.sessionAt.IsZero() {
		if sess.UpdatedAt.Before(s.sessionAt) {
			s.mu.Unlock()
			return false
		}
		if s.session.Status == models.StatusFinished && sess.Status != models.StatusFinished && !s.ephemeralEnd {
			s.mu.Unlock()
			return false
		}
	}
	var before playback.NowPlaying
	var hadSong bool
	if s.session != nil {
		before, hadSong = s.nowPlayingLocked()
	}
	wasFinished := s.session != nil && s.session.Status == models.StatusFinished

	cp := *sess
	s.session = &cp
	s.sessionAt = sess.UpdatedAt
	s.ephemeralEnd = false
	after, hasSong := s.nowPlayingLocked()
	songChanged := hadSong != hasSong || before.SongID != after.SongID || before.Index != after.Index || !before.StartedAt.Equal(after.StartedAt)
	if hasSong {
		s.resetSkipLocked(after.SongID)
	}
	s.mu.Unlock()

	updates := []Update{{Kind: UpdateSession, Origin: OriginAuthoritative}}
	if songChanged && hasSong {
		updates = append(updates, Update{Kind: UpdateSongChanged, Origin: OriginAuthoritative})
	}
	if sess.Status == models.StatusFinished && !wasFinished {
		updates = append(updates, Update{Kind: UpdateEnded, Origin: OriginAuthoritative})
	}
	s.notify(updates...)
	return songChanged
}

// SetSongs replaces the queue with the canonical order.
func (s *State) SetSongs(songs []models.Song) {
	sorted := append([]models.Song(nil), songs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	s.mu.Lock()
	before, hadSong := s.nowPlayingLocked()
	s.songs = sorted
	after, hasSong := s.nowPlayingLocked()
	if hasSong {
		s.resetSkipLocked(after.SongID)
	}
	s.mu.Unlock()

	updates := []Update{{Kind: UpdateSongs, Origin: OriginAuthoritative}}
	if hasSong && (!hadSong || before.SongID != after.SongID) {
		updates = append(updates, Update{Kind: UpdateSongChanged, Origin: OriginAuthoritative})
	}
	s.notify(updates...)
}

// SetParticipants replaces the participant list with the canonical order.
func (s *State) SetParticipants(participants []models.Participant) {
	sorted := append([]models.Participant(nil), participants...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].JoinedAt.Before(sorted[j].JoinedAt) })
	s.mu.Lock()
	s.participants = sorted
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateParticipants, Origin: OriginAuthoritative})
}

// MergeScores adds or overwrites scores by id without dropping others.
func (s *State) MergeScores(scores ...models.Score) {
	if len(scores) == 0 {
		return
	}
	s.mu.Lock()
	for _, sc := range scores {
		s.scores[sc.ID] = sc
	}
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateScores, Origin: OriginAuthoritative})
}

// SetScores replaces every score.
func (s *State) SetScores(scores []models.Score) {
	s.mu.Lock()
	s.scores = make(map[string]models.Score, len(scores))
	for _, sc := range scores {
		s.scores[sc.ID] = sc
	}
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateScores, Origin: OriginAuthoritative})
}

// SetSkipVotes replaces the votes on songID. Votes for a song that is no
// longer current are ignored.
func (s *State) SetSkipVotes(songID string, votes []models.SkipVote) {
	s.mu.Lock()
	current, ok := s.currentLocked()
	if !ok || current.ID != songID {
		s.mu.Unlock()
		return
	}
	s.skipSongID = songID
	s.skipVotes = make(map[string]models.SkipVote, len(votes))
	for _, v := range votes {
		if v.SongID == songID {
			s.skipVotes[v.ParticipantID] = v
		}
	}
	s.mu.Unlock()
	s.notify(Update{Kind: UpdateSkipVotes, Origin: OriginAuthoritative})
}

// MergeChat adds chat rows that are not known yet.
func (s *State) MergeChat(msgs ...models.ChatMessage) {
	s.mu.Lock()
	added := false
	for _, m := range msgs {
		if s.appendChatLocked(m) {
			added = true
		}
	}
	if added {
		sort.SliceStable(s.chat, func(i, j int) bool { return s.chat[i].CreatedAt.Before(s.chat[j].CreatedAt) })
	}
	s.mu.Unlock()
	if added {
		s.notify(Update{Kind: UpdateChat, Origin: OriginAuthoritative})
	}
}
