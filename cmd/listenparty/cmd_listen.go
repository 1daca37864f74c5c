/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/listenparty/internal/api"
	"github.com/friendsincode/listenparty/internal/client"
	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/logging"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/playback"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/replica"
)

var (
	listenServer string
	listenCode   string
	listenCreate string
	listenName   string
	listenUserID string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Join a session as a headless listener",
	Long: `Join a listening session without audio output.

The listener follows the shared playback clock, logs song changes and
chat, and shows up in the session's presence list. With --create it
hosts a new session and drives song transitions itself.

Examples:
  # Join an existing session
  listenparty listen --code K7M2QX --name bot

  # Host a new session
  listenparty listen --create "friday night" --name dj
`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenServer, "server", "", "Server base URL (default from LISTENPARTY_BASE_URL)")
	listenCmd.Flags().StringVar(&listenCode, "code", "", "Join code of the session")
	listenCmd.Flags().StringVar(&listenCreate, "create", "", "Create a session with this name and host it")
	listenCmd.Flags().StringVar(&listenName, "name", "listener", "Display name")
	listenCmd.Flags().StringVar(&listenUserID, "user-id", "", "Stable user id for rejoining")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	if (listenCode == "") == (listenCreate == "") {
		return errors.New("exactly one of --code or --create is required")
	}

	environment := os.Getenv("LISTENPARTY_ENV")
	if environment == "" {
		environment = "development"
	}
	logger = logging.Component(logging.Setup(environment), "listen")

	base := listenServer
	if base == "" {
		base = os.Getenv("LISTENPARTY_BASE_URL")
	}
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(base, logger)
	if err != nil {
		return err
	}

	var res *api.SessionResponse
	if listenCreate != "" {
		res, err = c.CreateSession(ctx, party.CreateSessionRequest{
			Name:     listenCreate,
			HostName: listenName,
			UserID:   listenUserID,
		})
	} else {
		res, err = c.Join(ctx, listenCode, listenName, listenUserID)
	}
	if err != nil {
		return fmt.Errorf("enter session: %w", err)
	}
	sessionID := res.Session.ID
	if listenCreate != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "join code: %s\n", res.Session.JoinCode)
	}

	sock, err := c.Dial(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("open session socket: %w", err)
	}
	defer sock.Close()

	rep, err := replica.Connect(ctx, replica.Options{
		SessionID:     sessionID,
		ParticipantID: res.Participant.ID,
		Loader:        c,
		Feed:          sock,
		Events:        sock,
		Actions:       c,
		Player:        playback.NewVirtualPlayer(nil),
		Gate:          playback.NewInteractionGate(true),
		Party:         config.DefaultPartyDefaults(),
		OnStatus: func(st playback.Status) {
			logger.Debug().Str("status", string(st)).Msg("playback status")
		},
		Logger: logger,
	})
	if err != nil {
		if errors.Is(err, replica.ErrSessionUnavailable) {
			return fmt.Errorf("session could not be loaded: %w", err)
		}
		return err
	}
	defer rep.Close()

	finished := make(chan struct{}, 1)
	cancelUpdates := rep.State.OnUpdate(func(u replica.Update) {
		switch u.Kind {
		case replica.UpdateSongChanged:
			if song, ok := rep.State.CurrentSong(); ok {
				logger.Info().Str("title", song.Title).Str("artist", song.Artist).Msg("now playing")
			}
		case replica.UpdateChat:
			if chat := rep.State.Chat(); len(chat) > 0 {
				last := chat[len(chat)-1]
				logger.Info().Str("from", displayName(rep.State, last.ParticipantID)).Msg(last.Message)
			}
		case replica.UpdateEnded:
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})
	defer cancelUpdates()

	if err := sock.Track(ctx, presence.State{UserName: listenName, IsListening: true}); err != nil {
		logger.Warn().Err(err).Msg("presence track failed")
	}

	if rep.State.Finished() {
		logger.Info().Msg("session already finished")
		return nil
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("leaving session")
	case <-finished:
		logger.Info().Msg("session finished")
	case <-sock.Done():
		if err := sock.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session socket closed: %w", err)
		}
	}
	return nil
}

func displayName(state *replica.State, participantID string) string {
	for _, p := range state.Participants() {
		if p.ID == participantID {
			return p.DisplayName
		}
	}
	return participantID
}
