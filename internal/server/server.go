/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/listenparty/internal/api"
	"github.com/friendsincode/listenparty/internal/archive"
	"github.com/friendsincode/listenparty/internal/cache"
	"github.com/friendsincode/listenparty/internal/catalog"
	"github.com/friendsincode/listenparty/internal/config"
	"github.com/friendsincode/listenparty/internal/db"
	"github.com/friendsincode/listenparty/internal/events"
	"github.com/friendsincode/listenparty/internal/eventbus"
	"github.com/friendsincode/listenparty/internal/janitor"
	"github.com/friendsincode/listenparty/internal/leadership"
	"github.com/friendsincode/listenparty/internal/models"
	"github.com/friendsincode/listenparty/internal/party"
	"github.com/friendsincode/listenparty/internal/presence"
	"github.com/friendsincode/listenparty/internal/store"
	"github.com/friendsincode/listenparty/internal/telemetry"
	"github.com/friendsincode/listenparty/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db       *gorm.DB
	store    *store.Store
	feed     store.ChangeFeed
	broker   events.Broker
	limiter  *events.Limiter
	cache    *cache.Cache
	service  *party.Service
	presence *presence.Tracker
	janitor  *janitor.Janitor
	election *leadership.Election
	tracer   *telemetry.TracerProvider
	api      *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("listenparty-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websocket streams outlive any request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket connections manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	tp, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "listenparty",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tp
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}

	if err := s.initStore(); err != nil {
		return err
	}

	if s.cfg.PublishRatePerSecond > 0 {
		s.limiter = events.NewLimiter(s.cfg.PublishRatePerSecond, s.cfg.PublishBurst)
	}
	s.broker = eventbus.New(s.busOptions(), s.logger)
	s.DeferClose(s.broker.Close)

	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.JoinCodeCacheTTL > 0 {
			cacheCfg.JoinCodeTTL = s.cfg.JoinCodeCacheTTL
		}
		s.cache = cache.New(cacheCfg, s.logger)
		s.DeferClose(s.cache.Close)
	}

	ctrl := party.NewController(s.store, s.broker, s.logger)
	var svcOpts []party.ServiceOption
	if s.cache != nil {
		svcOpts = append(svcOpts, party.WithJoinCodeCache(s.cache))
	}
	s.service = party.NewService(s.store, s.broker, ctrl, s.cfg.Party, s.logger, svcOpts...)

	s.presence = presence.NewTracker(s.cfg.Party.PresenceTimeout, s.logger)

	catalogClient, err := catalog.New(catalog.Config{
		BaseURL: s.cfg.CatalogURL,
		APIKey:  s.cfg.CatalogAPIKey,
	}, s.logger)
	if err != nil {
		return err
	}

	if err := s.initJanitor(ctrl); err != nil {
		return err
	}

	s.api = api.New(
		s.service,
		s.broker,
		s.feed,
		s.presence,
		[]byte(s.cfg.JWTSigningKey),
		s.cfg.TokenTTL,
		s.logger,
		api.WithCatalog(catalogClient),
	)

	return nil
}

// initStore picks the change feed. Postgres publishes committed rows
// through NOTIFY triggers so every instance sees every write; the other
// backends emit from the process that committed.
func (s *Server) initStore() error {
	if s.cfg.DBBackend == config.DatabasePostgres {
		pf, err := store.NewPostgresFeed(s.cfg.DBDSN, db.ChangeChannel, s.logger)
		if err != nil {
			return err
		}
		s.feed = pf
		s.DeferClose(pf.Close)
		s.store = store.New(s.db, nil, s.logger)
		return nil
	}

	mf := store.NewMemoryFeed()
	s.feed = mf
	s.DeferClose(mf.Close)
	s.store = store.New(s.db, mf, s.logger)
	return nil
}

func (s *Server) busOptions() eventbus.Options {
	opts := eventbus.Options{
		Kind:    eventbus.Kind(s.cfg.EventBus),
		Limiter: s.limiter,
		NodeID:  s.cfg.InstanceID,
	}

	opts.Redis = eventbus.DefaultRedisConfig()
	opts.Redis.Addr = s.cfg.RedisAddr
	opts.Redis.Password = s.cfg.RedisPassword
	opts.Redis.DB = s.cfg.RedisDB

	opts.NATS = eventbus.DefaultNATSConfig()
	if s.cfg.NATSURL != "" {
		opts.NATS.URL = s.cfg.NATSURL
	}
	opts.NATS.Token = s.cfg.NATSToken
	return opts
}

func (s *Server) initJanitor(ctrl *party.Controller) error {
	var opts []janitor.Option

	switch s.cfg.ArchiveBackend {
	case "", "none":
	case "file":
		fs, err := archive.NewFileStore(s.cfg.ArchiveDir)
		if err != nil {
			return fmt.Errorf("archive directory: %w", err)
		}
		opts = append(opts, janitor.WithArchiver(archive.NewArchiver(s.store, fs, s.logger)))
	case "s3":
		objects, err := archive.NewS3Store(context.Background(), archive.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Prefix:          s.cfg.S3Prefix,
			Endpoint:        s.cfg.S3Endpoint,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("archive bucket: %w", err)
		}
		opts = append(opts, janitor.WithArchiver(archive.NewArchiver(s.store, objects, s.logger)))
	default:
		return fmt.Errorf("unknown archive backend: %s", s.cfg.ArchiveBackend)
	}

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)
		opts = append(opts, janitor.WithLeader(election))
	}

	if s.cache != nil {
		opts = append(opts, janitor.WithJoinCodeCache(s.cache))
	}

	s.janitor = janitor.New(s.store, ctrl, janitor.Config{
		Interval:       s.cfg.JanitorInterval,
		RetainFinished: s.cfg.RetainFinished,
	}, s.logger, opts...)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		s.election.Start(ctx)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("janitor loop exited")
		}
	}()

	sweepEvery := s.cfg.Party.PresenceTimeout / 2
	if sweepEvery <= 0 {
		sweepEvery = 15 * time.Second
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.presence.Run(ctx, sweepEvery)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		db.RunConnectionMetrics(ctx, s.db, 30*time.Second)
	}()

	if s.limiter == nil {
		return
	}
	// Drop rate-limit buckets of sessions that ended on any node.
	cancelFeed := s.feed.OnChange(store.TableSessions, "", func(c store.Change) {
		if c.Op == store.OpDelete {
			s.limiter.Forget(c.SessionID)
			return
		}
		var sess models.Session
		if c.Op == store.OpUpdate && c.Decode(&sess) == nil && sess.Status == models.StatusFinished {
			s.limiter.Forget(c.SessionID)
		}
	})
	s.DeferClose(func() error { cancelFeed(); return nil })
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.election != nil {
			if s.election.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
