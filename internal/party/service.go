/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package party

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/skipvote"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	joinCodeAttempts = 10
	maxNameLength    = 50
	maxEmojiLength   = 32
	defaultChatLimit = 100
)

// JoinCodeCache fronts join-code lookups. Implementations may lose entries
// at any time.
type JoinCodeCache interface {
	LookupJoinCode(ctx context.Context, code string) (string, bool)
	StoreJoinCode(ctx context.Context, code, sessionID string)
	ForgetJoinCode(ctx context.Context, code string)
}

// CreateSessionRequest describes a new session and its host.
type CreateSessionRequest struct {
	Name            string         `json:"name"`
	HostName        string         `json:"host_name"`
	UserID          string         `json:"user_id,omitempty"`
	AvatarURL       string         `json:"avatar_url,omitempty"`
	InfiniteMode    bool           `json:"infinite_mode"`
	MinQueueSize    int            `json:"min_queue_size,omitempty"`
	MaxQueueSize    int            `json:"max_queue_size,omitempty"`
	MaxParticipants int            `json:"max_participants,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}

// AddSongRequest describes a song a participant wants queued.
type AddSongRequest struct {
	SessionID       string `json:"-"`
	ParticipantID   string `json:"-"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	AlbumArt        string `json:"album_art,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	Source          string `json:"source"`
	SourceID        string `json:"source_id"`
}

// Snapshot is the full readable state of a session.
type Snapshot struct {
	Session      *models.Session             `json:"session"`
	Participants []models.Participant        `json:"participants"`
	Songs        []models.Song               `json:"songs"`
	Stats        map[string]models.SongStats `json:"stats"`
	SkipVotes    []models.SkipVote           `json:"skip_votes"`
	Chat         []models.ChatMessage        `json:"chat"`
}

// Service implements the participant-facing session operations.
type Service struct {
	st     *store.Store
	pub    events.Publisher
	ctrl   *Controller
	codes  JoinCodeCache
	cfg    config.PartyDefaults
	logger zerolog.Logger

	now     func() time.Time
	newCode func() (string, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithJoinCodeCache puts a cache in front of join-code lookups.
func WithJoinCodeCache(c JoinCodeCache) ServiceOption {
	return func(s *Service) { s.codes = c }
}

// WithCodeGenerator overrides join-code generation.
func WithCodeGenerator(gen func() (string, error)) ServiceOption {
	return func(s *Service) { s.newCode = gen }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the session service.
func NewService(st *store.Store, pub events.Publisher, ctrl *Controller, cfg config.PartyDefaults, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		st:      st,
		pub:     pub,
		ctrl:    ctrl,
		cfg:     cfg,
		logger:  logger.With().Str("component", "party_service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		newCode: GenerateJoinCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Controller exposes the lifecycle controller.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

// CreateSession creates a waiting session with its host participant.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, *models.Participant, error) {
	hostName, err := cleanName(req.HostName)
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = hostName + "'s party"
	}

	now := s.now()
	sess := &models.Session{
		Name:            name,
		Status:          models.StatusWaiting,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(s.cfg.SessionTTL),
		Settings:        req.Settings,
		InfiniteMode:    req.InfiniteMode,
		MinQueueSize:    bounded(req.MinQueueSize, s.cfg.MaxQueueSize, s.cfg.MinQueueSize),
		MaxQueueSize:    bounded(req.MaxQueueSize, s.cfg.MaxQueueSize, s.cfg.MaxQueueSize),
		MaxParticipants: bounded(req.MaxParticipants, s.cfg.MaxParticipants, s.cfg.MaxParticipants),
	}
	host := &models.Participant{
		DisplayName: hostName,
		IsHost:      true,
		AvatarURL:   req.AvatarURL,
		JoinedAt:    now,
	}
	if req.UserID != "" {
		uid := req.UserID
		host.UserID = &uid
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, nil, fmt.Errorf("generate join code: %w", err)
		}
		sess.ID = ""
		host.ID = ""
		sess.JoinCode = code

		err = s.st.WithTx(ctx, func(tx *store.Store) error {
			host.ID = uuid.NewString()
			sess.HostID = host.ID
			if err := tx.CreateSession(ctx, sess); err != nil {
				return err
			}
			host.SessionID = sess.ID
			return tx.CreateParticipant(ctx, host)
		})
		if errors.Is(err, store.ErrDuplicate) {
			s.logger.Debug().Str("join_code", code).Int("attempt", attempt+1).Msg("join code collision")
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if s.codes != nil {
			s.codes.StoreJoinCode(ctx, sess.JoinCode, sess.ID)
		}
		s.logger.Info().Str("session_id", sess.ID).Str("join_code", sess.JoinCode).Msg("session created")
		return sess, host, nil
	}
	return nil, nil, ErrJoinCodeExhausted
}

// Join adds a participant to the session behind code. A user id that already
// joined gets its existing participant back.
func (s *Service) Join(ctx context.Context, code, displayName, userID string) (*models.Session, *models.Participant, error) {
	sess, err := s.sessionByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == models.StatusFinished {
		return nil, nil, ErrSessionFinished
	}
	if sess.Expired(s.now()) {
		return nil, nil, ErrSessionExpired
	}

	if userID != "" {
		existing, err := s.st.FindParticipantByUser(ctx, sess.ID, userID)
		if err == nil {
			return sess, existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}

	name, err := cleanName(displayName)
	if err != nil {
		return nil, nil, err
	}

	p := &models.Participant{SessionID: sess.ID, DisplayName: name, JoinedAt: s.now()}
	if userID != "" {
		uid := userID
		p.UserID = &uid
	}
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		locked, err := tx.LockSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		limit := locked.MaxParticipants
		if limit <= 0 {
			limit = s.cfg.MaxParticipants
		}
		count, err := tx.CountParticipants(ctx, sess.ID)
		if err != nil {
			return err
		}
		if count >= limit {
			return ErrSessionFull
		}
		if err := tx.CreateParticipant(ctx, p); err != nil {
			return err
		}
		return tx.TouchSession(ctx, sess.ID, s.now())
	})
	if errors.Is(err, store.ErrDuplicate) && userID != "" {
		// Lost a race with the same user's other tab.
		existing, ferr := s.st.FindParticipantByUser(ctx, sess.ID, userID)
		if ferr != nil {
			return nil, nil, ferr
		}
		return sess, existing, nil
	}
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().Str("session_id", sess.ID).Str("participant_id", p.ID).Msg("participant joined")
	return sess, p, nil
}

func (s *Service) sessionByCode(ctx context.Context, code string) (*models.Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrSessionNotFound
	}
	if s.codes != nil {
		if id, ok := s.codes.LookupJoinCode(ctx, code); ok {
			sess, err := s.st.GetSession(ctx, id)
			if err == nil && sess.JoinCode == code {
				return sess, nil
			}
			s.codes.ForgetJoinCode(ctx, code)
		}
	}
	sess, err := s.st.FindSessionByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.codes != nil {
		s.codes.StoreJoinCode(ctx, code, sess.ID)
	}
	return sess, nil
}

// AddSong appends a song to the queue.
func (s *Service) AddSong(ctx context.Context, req AddSongRequest) (*models.Song, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || req.Source == "" || req.SourceID == "" || req.DurationSeconds <= 0 {
		return nil, ErrInvalidSong
	}
	if time.Duration(req.DurationSeconds)*time.Second > s.cfg.MaxSongDuration {
		return nil, ErrSongTooLong
	}

	song := &models.Song{
		SessionID:       req.SessionID,
		Title:           title,
		Artist:          strings.TrimSpace(req.Artist),
		AlbumArt:        req.AlbumArt,
		DurationSeconds: req.DurationSeconds,
		Source:          req.Source,
		SourceID:        req.SourceID,
		AddedBy:         req.ParticipantID,
	}
	err := s.st.WithTx(ctx, func(tx *store.Store) error {
		sess, err := s.lockOpen(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if _, err := participantIn(ctx, tx, req.SessionID, req.ParticipantID); err != nil {
			return err
		}
		_, err = tx.FindSongBySource(ctx, req.SessionID, req.Source, req.SourceID)
		if err == nil {
			return ErrDuplicateSong
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		limit := sess.MaxQueueSize
		if limit <= 0 {
			limit = s.cfg.MaxQueueSize
		}
		count, err := tx.CountSongs(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if count >= limit {
			return ErrQueueFull
		}
		if err := tx.AppendSong(ctx, song); err != nil {
			return err
		}
		return tx.TouchSession(ctx, req.SessionID, s.now())
	})
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.pub, s.logger, req.SessionID, events.SongAdded{
		SongID:    song.ID,
		Title:     song.Title,
		Artist:    song.Artist,
		AddedBy:   song.AddedBy,
		Timestamp: song.CreatedAt,
	})
	return song, nil
}

// RemoveSong deletes a queued song. Only the host or the participant who
// added it may remove it, and never once it has started playing.
func (s *Service) RemoveSong(ctx context.Context, sessionID, songID, actorID string) error {
	return s.st.WithTx(ctx, func(tx *store.Store) error {
		sess, err := s.lockOpen(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		songs, err := tx.ListSongs(ctx, sessionID)
		if err != nil {
			return err
		}
		idx := indexOf(songs, songID)
		if idx < 0 {
			return ErrSongNotFound
		}
		if actorID != sess.HostID && actorID != songs[idx].AddedBy {
			return ErrForbidden
		}
		if sess.IsPlaying() && idx <= *sess.CurrentSongIndex {
			return ErrSongLocked
		}
		return tx.DeleteSong(ctx, sessionID, songID)
	})
}

// ReorderSongs rewrites the queue order. While playing, the current song and
// everything before it must keep their places.
func (s *Service) ReorderSongs(ctx context.Context, sessionID, actorID string, orderedIDs []string) error {
	return s.st.WithTx(ctx, func(tx *store.Store) error {
		sess, err := s.lockOpen(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.HostID != actorID {
			return ErrNotHost
		}
		songs, err := tx.ListSongs(ctx, sessionID)
		if err != nil {
			return err
		}
		if len(orderedIDs) != len(songs) {
			return ErrInvalidSong
		}
		seen := make(map[string]struct{}, len(orderedIDs))
		for _, id := range orderedIDs {
			seen[id] = struct{}{}
		}
		if len(seen) != len(orderedIDs) {
			return ErrInvalidSong
		}
		if sess.IsPlaying() {
			for i := 0; i <= *sess.CurrentSongIndex && i < len(songs); i++ {
				if orderedIDs[i] != songs[i].ID {
					return ErrSongLocked
				}
			}
		}
		for _, id := range orderedIDs {
			if indexOf(songs, id) < 0 {
				return ErrSongNotFound
			}
		}
		return tx.ReorderSongs(ctx, sessionID, orderedIDs)
	})
}

// CastScore rates a song once per participant and credits the rating as
// karma to whoever added it. A repeated rating returns the first one.
func (s *Service) CastScore(ctx context.Context, sessionID, songID, participantID string, rating int) (*models.Score, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	song, err := s.st.GetSong(ctx, sessionID, songID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, err
	}
	if song.AddedBy == participantID {
		return nil, ErrOwnSong
	}
	voter, err := participantIn(ctx, s.st, sessionID, participantID)
	if err != nil {
		return nil, err
	}

	score := &models.Score{SessionID: sessionID, SongID: songID, ParticipantID: participantID, Rating: rating}
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.InsertScore(ctx, score); err != nil {
			return err
		}
		err := tx.CreditKarma(ctx, &models.KarmaEntry{
			SessionID:     sessionID,
			ParticipantID: song.AddedBy,
			Delta:         rating,
			Reason:        "score",
		})
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		return s.st.FindScore(ctx, songID, participantID)
	}
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.pub, s.logger, sessionID, events.ScoreAdded{
		ScoreID:         score.ID,
		SongID:          songID,
		ParticipantID:   participantID,
		ParticipantName: voter.DisplayName,
		Rating:          rating,
		Timestamp:       score.CreatedAt,
	})
	return score, nil
}

// AddSkipVote records a vote against the current song. It reports false
// when the participant had already voted. Votes are refused until the song
// has played for SkipAvailableAfter.
func (s *Service) AddSkipVote(ctx context.Context, sessionID, songID, participantID string) (*models.SkipVote, bool, error) {
	voter, err := s.currentSongVoter(ctx, sessionID, songID, participantID, true)
	if err != nil {
		return nil, false, err
	}
	vote := &models.SkipVote{SessionID: sessionID, SongID: songID, ParticipantID: participantID}
	err = s.st.InsertSkipVote(ctx, vote)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	publishEvent(ctx, s.pub, s.logger, sessionID, events.SkipVoteAdded{SkipVote: events.SkipVote{
		SkipVoteID:      vote.ID,
		SongID:          songID,
		ParticipantID:   participantID,
		ParticipantName: voter.DisplayName,
		Timestamp:       vote.CreatedAt,
	}})
	return vote, true, nil
}

// RemoveSkipVote retracts a vote. Retracting a missing vote reports false.
func (s *Service) RemoveSkipVote(ctx context.Context, sessionID, songID, participantID string) (bool, error) {
	voter, err := s.currentSongVoter(ctx, sessionID, songID, participantID, false)
	if err != nil {
		return false, err
	}
	removed, err := s.st.DeleteSkipVote(ctx, sessionID, songID, participantID)
	if err != nil || removed == nil {
		return false, err
	}
	publishEvent(ctx, s.pub, s.logger, sessionID, events.SkipVoteRemoved{SkipVote: events.SkipVote{
		SkipVoteID:      removed.ID,
		SongID:          songID,
		ParticipantID:   participantID,
		ParticipantName: voter.DisplayName,
		Timestamp:       s.now(),
	}})
	return true, nil
}

func (s *Service) currentSongVoter(ctx context.Context, sessionID, songID, participantID string, adding bool) (*models.Participant, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusFinished {
		return nil, ErrSessionFinished
	}
	if !sess.IsPlaying() {
		return nil, ErrNotPlaying
	}
	songs, err := s.st.ListSongs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := *sess.CurrentSongIndex
	if idx >= len(songs) || songs[idx].ID != songID {
		return nil, ErrNotCurrentSong
	}
	if adding && sess.CurrentSongStartedAt != nil {
		if !skipvote.Eligible(s.now().Sub(*sess.CurrentSongStartedAt), s.cfg.SkipAvailableAfter) {
			return nil, ErrSkipNotAvailable
		}
	}
	return participantIn(ctx, s.st, sessionID, participantID)
}

// ToggleReaction adds the emoji reaction, or removes it if present. It
// reports whether the reaction is now set.
func (s *Service) ToggleReaction(ctx context.Context, sessionID, songID, participantID, emoji string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return false, ErrInvalidReaction
	}
	if _, err := s.st.GetSong(ctx, sessionID, songID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrSongNotFound
		}
		return false, err
	}
	p, err := participantIn(ctx, s.st, sessionID, participantID)
	if err != nil {
		return false, err
	}

	removed, err := s.st.DeleteReaction(ctx, sessionID, songID, participantID, emoji)
	if err != nil {
		return false, err
	}
	if removed {
		return false, nil
	}

	r := &models.Reaction{SessionID: sessionID, SongID: songID, ParticipantID: participantID, Emoji: emoji}
	err = s.st.InsertReaction(ctx, r)
	if errors.Is(err, store.ErrDuplicate) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	publishEvent(ctx, s.pub, s.logger, sessionID, events.SongReaction{
		ParticipantID:   participantID,
		ParticipantName: p.DisplayName,
		Emoji:           emoji,
		Timestamp:       r.CreatedAt,
	})
	return true, nil
}

// SendChat stores a chat line, tagged with the current song when one plays.
func (s *Service) SendChat(ctx context.Context, sessionID, participantID, message string) (*models.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	limit := s.cfg.MaxChatLength
	if limit > 0 && utf8.RuneCountInString(message) > limit {
		return nil, ErrMessageTooLong
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusFinished {
		return nil, ErrSessionFinished
	}
	p, err := participantIn(ctx, s.st, sessionID, participantID)
	if err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{SessionID: sessionID, ParticipantID: participantID, Message: message}
	if song, ok, err := s.currentSong(ctx, sess); err != nil {
		return nil, err
	} else if ok {
		id := song.ID
		msg.SongID = &id
	}
	if err := s.st.InsertChat(ctx, msg); err != nil {
		return nil, err
	}

	ev := events.ChatMessage{
		ID:              msg.ID,
		ParticipantID:   participantID,
		ParticipantName: p.DisplayName,
		Message:         msg.Message,
		Timestamp:       msg.CreatedAt,
	}
	if msg.SongID != nil {
		ev.SongID = *msg.SongID
	}
	publishEvent(ctx, s.pub, s.logger, sessionID, ev)
	return msg, nil
}

// Snapshot loads everything a client needs to render the session.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Session: sess}
	if snap.Participants, err = s.st.ListParticipants(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.Songs, err = s.st.ListSongs(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.Stats, err = s.st.SessionSongStats(ctx, sessionID); err != nil {
		return nil, err
	}
	if sess.IsPlaying() && *sess.CurrentSongIndex < len(snap.Songs) {
		current := snap.Songs[*sess.CurrentSongIndex]
		if snap.SkipVotes, err = s.st.ListSkipVotes(ctx, sessionID, current.ID); err != nil {
			return nil, err
		}
	}
	if snap.Chat, err = s.st.ListChat(ctx, sessionID, defaultChatLimit); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSession loads the session row.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.session(ctx, sessionID)
}

// GetParticipant loads one participant of the session.
func (s *Service) GetParticipant(ctx context.Context, sessionID, participantID string) (*models.Participant, error) {
	return participantIn(ctx, s.st, sessionID, participantID)
}

// ListParticipants returns participants by join time.
func (s *Service) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	return s.st.ListParticipants(ctx, sessionID)
}

// ListSongs returns the queue by position.
func (s *Service) ListSongs(ctx context.Context, sessionID string) ([]models.Song, error) {
	return s.st.ListSongs(ctx, sessionID)
}

// ListScores returns every score in the session.
func (s *Service) ListScores(ctx context.Context, sessionID string) ([]models.Score, error) {
	return s.st.ListScores(ctx, sessionID)
}

// ListSkipVotes returns the votes against songID.
func (s *Service) ListSkipVotes(ctx context.Context, sessionID, songID string) ([]models.SkipVote, error) {
	return s.st.ListSkipVotes(ctx, sessionID, songID)
}

// ListReactions returns the reactions on songID.
func (s *Service) ListReactions(ctx context.Context, sessionID, songID string) ([]models.Reaction, error) {
	return s.st.ListReactions(ctx, sessionID, songID)
}

// ListChat returns the latest chat lines, oldest first.
func (s *Service) ListChat(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > defaultChatLimit {
		limit = defaultChatLimit
	}
	return s.st.ListChat(ctx, sessionID, limit)
}

// SongStats returns the rating aggregate of a song.
func (s *Service) SongStats(ctx context.Context, songID string) (models.SongStats, error) {
	return s.st.SongStats(ctx, songID)
}

// SkipStatus returns the skip tally of the current song. The second result
// is false when nothing is playing.
func (s *Service) SkipStatus(ctx context.Context, sessionID string) (skipvote.Tally, bool, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return skipvote.Tally{}, false, err
	}
	song, ok, err := s.currentSong(ctx, sess)
	if err != nil || !ok {
		return skipvote.Tally{}, false, err
	}
	votes, err := s.st.ListSkipVotes(ctx, sessionID, song.ID)
	if err != nil {
		return skipvote.Tally{}, false, err
	}
	n, err := s.st.CountParticipants(ctx, sessionID)
	if err != nil {
		return skipvote.Tally{}, false, err
	}
	return skipvote.Tally{
		SongID:       song.ID,
		SongIndex:    *sess.CurrentSongIndex,
		Votes:        len(votes),
		Participants: n,
	}, true, nil
}

func (s *Service) session(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.st.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (s *Service) lockOpen(ctx context.Context, tx *store.Store, sessionID string) (*models.Session, error) {
	sess, err := tx.LockSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusFinished {
		return nil, ErrSessionFinished
	}
	return sess, nil
}

func (s *Service) currentSong(ctx context.Context, sess *models.Session) (models.Song, bool, error) {
	if !sess.IsPlaying() {
		return models.Song{}, false, nil
	}
	songs, err := s.st.ListSongs(ctx, sess.ID)
	if err != nil {
		return models.Song{}, false, err
	}
	idx := *sess.CurrentSongIndex
	if idx < 0 || idx >= len(songs) {
		return models.Song{}, false, nil
	}
	return songs[idx], true, nil
}

func participantIn(ctx context.Context, st *store.Store, sessionID, participantID string) (*models.Participant, error) {
	p, err := st.GetParticipant(ctx, sessionID, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrParticipantNotFound
	}
	return p, err
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

// bounded returns requested when it is positive and within limit, and def
// otherwise.
func bounded(requested, limit, def int) int {
	if requested <= 0 || (limit > 0 && requested > limit) {
		return def
	}
	return requested
}

func indexOf(songs []models.Song, id string) int {
	for i, s := range songs {
		if s.ID == id {
			return i
		}
	}
	return -1
}
