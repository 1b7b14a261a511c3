/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/taskplanner/internal/api"
	"github.com/friendsincode/taskplanner/internal/auth"
	"github.com/friendsincode/taskplanner/internal/cache"
	"github.com/friendsincode/taskplanner/internal/calendar"
	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/config"
	"github.com/friendsincode/taskplanner/internal/db"
	"github.com/friendsincode/taskplanner/internal/eventbus"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/leadership"
	"github.com/friendsincode/taskplanner/internal/parser"
	"github.com/friendsincode/taskplanner/internal/scheduler"
	"github.com/friendsincode/taskplanner/internal/tasks"
	"github.com/friendsincode/taskplanner/internal/telemetry"
	"github.com/friendsincode/taskplanner/internal/version"
)

const serviceName = "taskplanner"

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	instanceID string
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	cache       *cache.Cache
	bus         *events.Bus
	redisBus    *eventbus.RedisBus
	publisher   events.Publisher
	changelog   *changelog.Service
	tasks       *tasks.Service
	scheduler   *scheduler.Service
	runner      *scheduler.Runner
	leaderAware *scheduler.LeaderAwareRunner
	election    *leadership.Election
	tracer      *telemetry.TracerProvider
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	srv := &Server{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger.With().Str("instance_id", instanceID).Logger(),
		router:     router,
		bus:        events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket streams manage their own deadlines.
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

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := s.seedSpaces(); err != nil {
		return err
	}

	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s.publisher = s.bus
	if s.cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		cacheCfg.FeedTTL = s.cfg.CalendarCacheTTL
		s.cache = cache.New(cacheCfg, s.logger)
		s.DeferClose(func() error { return s.cache.Close() })

		busCfg := eventbus.DefaultRedisConfig()
		busCfg.Addr = s.cfg.RedisAddr
		busCfg.Password = s.cfg.RedisPassword
		busCfg.DB = s.cfg.RedisDB
		s.redisBus = eventbus.NewRedisBus(busCfg, s.bus, s.instanceID, s.logger)
		s.publisher = s.redisBus
		s.DeferClose(func() error { return s.redisBus.Close() })
	}

	var feedCache calendar.FeedCache
	var feeds api.FeedInvalidator
	if s.cache != nil {
		feedCache = s.cache
		feeds = s.cache
	}
	fetcher := calendar.NewFetcher(calendar.FetcherConfig{
		DaysAhead: s.cfg.CalendarDaysAhead,
		Timeout:   s.cfg.CalendarFetchTimeout,
		Location:  loc,
	}, feedCache, s.logger)

	s.changelog = changelog.NewService(database, s.logger)
	s.tasks = tasks.NewService(database, s.publisher, s.logger)
	s.scheduler = scheduler.New(database, fetcher, s.publisher, scheduler.Config{Location: loc}, s.logger)

	if s.cfg.AutoScheduleCron != "" {
		if err := s.initAutoSchedule(loc); err != nil {
			return err
		}
	}

	systemPrompt, err := parser.LoadSystemPrompt(s.cfg.SystemPromptFile)
	if err != nil {
		return fmt.Errorf("load system prompt: %w", err)
	}
	taskParser := parser.New(parser.Config{
		APIKey:        s.cfg.AIAPIKey,
		BaseURL:       s.cfg.AIAPIBaseURL,
		Model:         s.cfg.AIModel,
		RatePerMinute: s.cfg.AIRatePerMinute,
		Location:      loc,
	}, s.logger)
	if !s.cfg.AIEnabled() {
		s.logger.Info().Msg("AI API key not set, task parsing falls back to raw text")
	}

	verifier, err := auth.NewPasswordVerifier(s.cfg.AppPassword)
	if err != nil {
		return fmt.Errorf("prepare password: %w", err)
	}

	s.api = api.New(api.Options{
		Tasks:         s.tasks,
		Scheduler:     s.scheduler,
		Parser:        taskParser,
		Events:        fetcher,
		ChangeLog:     s.changelog,
		Bus:           s.bus,
		Feeds:         feeds,
		Password:      verifier,
		JWTSecret:     []byte(s.cfg.JWTSigningKey),
		SessionTTL:    s.cfg.SessionTTL,
		SecureCookies: s.cfg.IsProduction(),
		SystemPrompt:  systemPrompt,
		Location:      loc,
	}, s.logger)

	return nil
}

func (s *Server) seedSpaces() error {
	seeds := db.DefaultSpaceSeeds()
	if s.cfg.SpacesFile != "" {
		loaded, err := db.LoadSpaceSeeds(s.cfg.SpacesFile)
		if err != nil {
			return err
		}
		seeds = loaded
	}
	created, err := db.SeedSpaces(s.db, seeds)
	if err != nil {
		return fmt.Errorf("seed spaces: %w", err)
	}
	if created > 0 {
		s.logger.Info().Int("count", created).Msg("created default spaces")
	}
	return nil
}

func (s *Server) initAutoSchedule(loc *time.Location) error {
	runner, err := scheduler.NewRunner(s.scheduler, s.cfg.AutoScheduleCron, loc, s.logger)
	if err != nil {
		return err
	}

	if !s.cfg.LeaderElectionEnabled {
		s.runner = runner
		return nil
	}

	electionConfig := leadership.DefaultConfig()
	electionConfig.RedisAddr = s.cfg.RedisAddr
	electionConfig.RedisPassword = s.cfg.RedisPassword
	electionConfig.RedisDB = s.cfg.RedisDB
	electionConfig.ElectionKey = "taskplanner:leader:autoschedule"
	electionConfig.InstanceID = s.instanceID

	election, err := leadership.NewElection(electionConfig, s.logger)
	if err != nil {
		return fmt.Errorf("create leader election: %w", err)
	}

	s.election = election
	s.leaderAware = scheduler.NewLeaderAware(runner, election, s.logger)
	s.DeferClose(func() error { return s.leaderAware.Stop() })

	s.logger.Info().
		Str("redis_addr", s.cfg.RedisAddr).
		Msg("leader election enabled for autoschedule")
	return nil
}

// HTTPServer exposes the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases resources in reverse order of acquisition.
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

	if s.redisBus != nil {
		s.redisBus.Start(ctx)
	}

	if s.leaderAware != nil {
		s.leaderAware.Start(ctx)
	} else if s.runner != nil {
		if err := s.runner.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("autoschedule failed to start")
		}
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			db.UpdateConnectionMetrics(s.db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scheduler.History().Prune(time.Now().Add(-7 * 24 * time.Hour))
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgCancel = nil
	if s.runner != nil {
		s.runner.Stop()
	}
	if s.leaderAware != nil {
		<-s.leaderAware.Done()
	}
	s.bgWG.Wait()
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"version": version.Get(),
		}
		if s.leaderAware != nil {
			resp["leader"] = s.leaderAware.IsLeader()
			if leaderID, err := s.election.GetLeader(r.Context()); err == nil && leaderID != "" {
				resp["leader_id"] = leaderID
			}
		}
		if last, ok := s.scheduler.History().Last(); ok {
			resp["last_schedule_run"] = last.StartedAt
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
