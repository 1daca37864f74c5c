/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// PostgresFeed turns LISTEN/NOTIFY payloads written by the database change
// triggers into Change values. Every instance connected to the same database
// sees every committed write.
type PostgresFeed struct {
	listener *pq.Listener
	fanout   *MemoryFeed
	logger   zerolog.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPostgresFeed connects a dedicated listener connection to channel.
func NewPostgresFeed(dsn, channel string, logger zerolog.Logger) (*PostgresFeed, error) {
	pf := &PostgresFeed{
		fanout: NewMemoryFeed(),
		logger: logger.With().Str("component", "postgres_feed").Logger(),
		done:   make(chan struct{}),
	}

	pf.listener = pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			pf.logger.Warn().Err(err).Msg("change feed disconnected")
		case pq.ListenerEventReconnected:
			pf.logger.Info().Msg("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			pf.logger.Debug().Err(err).Msg("change feed reconnect attempt failed")
		}
	})

	if err := pf.listener.Listen(channel); err != nil {
		_ = pf.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	pf.wg.Add(1)
	go pf.loop()

	pf.logger.Info().Str("channel", channel).Msg("postgres change feed listening")
	return pf, nil
}

func (pf *PostgresFeed) loop() {
	defer pf.wg.Done()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-pf.done:
			return
		case n, ok := <-pf.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// A nil notification follows a reconnect; anything sent while
				// we were away is lost.
				pf.fanout.Emit(Change{Op: OpResync})
				continue
			}
			var c Change
			if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
				pf.logger.Warn().Err(err).Msg("dropping malformed change notification")
				continue
			}
			pf.fanout.Emit(c)
		case <-ping.C:
			if err := pf.listener.Ping(); err != nil {
				pf.logger.Warn().Err(err).Msg("change feed ping failed")
			}
		}
	}
}

// OnChange implements ChangeFeed.
func (pf *PostgresFeed) OnChange(table, sessionID string, cb func(Change)) func() {
	return pf.fanout.OnChange(table, sessionID, cb)
}

// Close stops listening and cancels every subscription.
func (pf *PostgresFeed) Close() error {
	var err error
	pf.once.Do(func() {
		close(pf.done)
		err = pf.listener.Close()
		pf.wg.Wait()
		_ = pf.fanout.Close()
	})
	return err
}
