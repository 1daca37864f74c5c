/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/listenparty/internal/archive"
	"github.com/friendsincode/listenparty/internal/db"
	"github.com/friendsincode/listenparty/internal/eventbus"
	"github.com/friendsincode/listenparty/internal/janitor"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/store"
)

var sweepArchiveDir string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire, archive and purge sessions once",
	Long: `Run a single janitor pass outside the server.

Expired sessions are finished, finished sessions are archived (to
--archive-dir, or only stamped when no directory is given) and archived
sessions older than LISTENPARTY_RETAIN_FINISHED are deleted.

Examples:
  listenparty sweep
  listenparty sweep --archive-dir /var/lib/listenparty/archive
`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepArchiveDir, "archive-dir", "", "Write archive documents to this directory")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	// Postgres triggers publish the changes; other backends have no
	// listeners outside this process.
	st := store.New(database, nil, logger)

	broker := eventbus.New(eventbus.Options{
		Kind:   eventbus.Kind(cfg.EventBus),
		Redis:  redisBusConfig(),
		NATS:   natsBusConfig(),
		NodeID: cfg.InstanceID,
	}, logger)
	defer broker.Close()

	ctrl := party.NewController(st, broker, logger)

	var opts []janitor.Option
	if sweepArchiveDir != "" {
		fs, err := archive.NewFileStore(sweepArchiveDir)
		if err != nil {
			return err
		}
		opts = append(opts, janitor.WithArchiver(archive.NewArchiver(st, fs, logger)))
	}

	j := janitor.New(st, ctrl, janitor.Config{RetainFinished: cfg.RetainFinished}, logger, opts...)
	res := j.Sweep(context.Background())
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d, archived %d, deleted %d\n", res.Expired, res.Archived, res.Deleted)
	return nil
}

func redisBusConfig() eventbus.RedisConfig {
	rc := eventbus.DefaultRedisConfig()
	rc.Addr = cfg.RedisAddr
	rc.Password = cfg.RedisPassword
	rc.DB = cfg.RedisDB
	return rc
}

func natsBusConfig() eventbus.NATSConfig {
	nc := eventbus.DefaultNATSConfig()
	if cfg.NATSURL != "" {
		nc.URL = cfg.NATSURL
	}
	nc.Token = cfg.NATSToken
	return nc
}
