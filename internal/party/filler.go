/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package party

import (
	"context"
	"fmt"

	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/store"
)

// QueueFiller tops up the queue of an infinite session that ran out of
// songs. It runs inside the advancing transaction and returns the songs it
// appended, in queue order.
type QueueFiller interface {
	Fill(ctx context.Context, tx *store.Store, sess *models.Session, queue []models.Song) ([]models.Song, error)
}

// RepeatPoolFiller re-queues shuffled copies of songs already played in the
// session. Repeats skip the duplicate check applied to user additions.
type RepeatPoolFiller struct {
	shuffle func([]models.Song)
}

// NewRepeatPoolFiller returns a filler that permutes each batch with shuffle.
func NewRepeatPoolFiller(shuffle func([]models.Song)) *RepeatPoolFiller {
	return &RepeatPoolFiller{shuffle: shuffle}
}

// Fill appends MinQueueSize songs (at least one) drawn from the queue.
func (f *RepeatPoolFiller) Fill(ctx context.Context, tx *store.Store, sess *models.Session, queue []models.Song) ([]models.Song, error) {
	if len(queue) == 0 {
		return nil, nil
	}
	need := sess.MinQueueSize
	if need < 1 {
		need = 1
	}

	pool := dedupeBySource(queue)
	var added []models.Song
	for len(added) < need {
		batch := append([]models.Song(nil), pool...)
		if f.shuffle != nil {
			f.shuffle(batch)
		}
		for _, src := range batch {
			if len(added) == need {
				break
			}
			song := models.Song{
				SessionID:       sess.ID,
				Title:           src.Title,
				Artist:          src.Artist,
				AlbumArt:        src.AlbumArt,
				DurationSeconds: src.DurationSeconds,
				Source:          src.Source,
				SourceID:        src.SourceID,
				AddedBy:         src.AddedBy,
			}
			if err := tx.AppendSong(ctx, &song); err != nil {
				return nil, fmt.Errorf("requeue %s: %w", src.ID, err)
			}
			added = append(added, song)
		}
	}
	return added, nil
}

// dedupeBySource keeps the first copy of each track so earlier repeats do
// not weight the pool.
func dedupeBySource(songs []models.Song) []models.Song {
	seen := make(map[string]struct{}, len(songs))
	out := make([]models.Song, 0, len(songs))
	for _, s := range songs {
		key := s.Source + "/" + s.SourceID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
