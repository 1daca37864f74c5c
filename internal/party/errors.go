/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package party

import "errors"

var (
	// ErrNotHost indicates a host-only action was attempted by a guest.
	ErrNotHost = errors.New("only the host can do that")

	// ErrSessionNotFound indicates the session or join code does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionFinished indicates the session already ended.
	ErrSessionFinished = errors.New("session finished")

	// ErrSessionExpired indicates the session is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionFull indicates the participant limit is reached.
	ErrSessionFull = errors.New("session full")

	// ErrNotPlaying indicates the session has not started.
	ErrNotPlaying = errors.New("session not playing")

	// ErrEmptyQueue indicates a start with no songs queued.
	ErrEmptyQueue = errors.New("queue is empty")

	// ErrJoinCodeExhausted indicates no unique join code was found.
	ErrJoinCodeExhausted = errors.New("could not allocate a unique join code")

	// ErrParticipantNotFound indicates the participant is not in the session.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrSongNotFound indicates the song is not in the session.
	ErrSongNotFound = errors.New("song not found")

	// ErrSongTooLong indicates the song exceeds the duration limit.
	ErrSongTooLong = errors.New("song too long")

	// ErrDuplicateSong indicates the song is already queued.
	ErrDuplicateSong = errors.New("song already queued")

	// ErrQueueFull indicates the queue limit is reached.
	ErrQueueFull = errors.New("queue full")

	// ErrInvalidSong indicates missing song metadata.
	ErrInvalidSong = errors.New("invalid song")

	// ErrSongLocked indicates the song already played or is playing.
	ErrSongLocked = errors.New("song already played or playing")

	// ErrForbidden indicates the actor may not modify the resource.
	ErrForbidden = errors.New("not allowed")

	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrOwnSong indicates a participant tried to rate their own song.
	ErrOwnSong = errors.New("cannot rate your own song")

	// ErrNotCurrentSong indicates a skip vote for a song that is not playing.
	ErrNotCurrentSong = errors.New("song is not the current song")

	// ErrSkipNotAvailable indicates a skip vote before the song has played
	// long enough.
	ErrSkipNotAvailable = errors.New("skipping not available yet")

	// ErrInvalidReaction indicates an empty or oversized emoji.
	ErrInvalidReaction = errors.New("invalid reaction")

	// ErrEmptyMessage indicates a blank chat message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong indicates a chat message over the length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrInvalidName indicates a blank or oversized display name.
	ErrInvalidName = errors.New("invalid display name")
)
