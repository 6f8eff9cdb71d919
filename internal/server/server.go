// Package server exposes run artifacts over HTTP in serve mode: a JSON/CSV
// results API, a websocket progress stream, and an optional cron-scheduled
// re-optimization.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ophirlabs/ophir/internal/optimizer"
)

// RunFunc launches one optimization run, reporting progress through the
// callback, and returns the finished report. The server guarantees at most
// one concurrent invocation.
type RunFunc func(ctx context.Context, progress optimizer.ProgressFunc) (*optimizer.RunReport, error)

// Config holds server configuration
type Config struct {
	Port         int
	ArtifactsDir string
	CronSchedule string
	Log          zerolog.Logger
	Run          RunFunc
}

// Server represents the HTTP server
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	artifactsDir string
	run          RunFunc
	hub          *progressHub
	cron         *cron.Cron
	cronSchedule string

	runLock chan struct{}
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		artifactsDir: cfg.ArtifactsDir,
		run:          cfg.Run,
		hub:          newProgressHub(cfg.Log),
		cronSchedule: cfg.CronSchedule,
		runLock:      make(chan struct{}, 1),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/equity", s.handleRunArtifact("equity_curve.csv"))
		r.Get("/runs/{id}/trades", s.handleRunArtifact("trades.csv"))
		r.Post("/optimize", s.handleOptimize)
	})
	s.router.Get("/ws/progress", s.handleProgress)
}

// Start starts the HTTP server and, when configured, the re-optimization
// schedule.
func (s *Server) Start() error {
	if s.cronSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cronSchedule, func() { s.launchRun() }); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", s.cronSchedule, err)
		}
		s.cron.Start()
		s.log.Info().Str("schedule", s.cronSchedule).Msg("Scheduled re-optimization enabled")
	}

	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.server.Shutdown(ctx)
}

// launchRun starts one optimization unless one is already in flight.
func (s *Server) launchRun() bool {
	select {
	case s.runLock <- struct{}{}:
	default:
		s.log.Warn().Msg("Optimization already running, launch skipped")
		return false
	}

	go func() {
		defer func() { <-s.runLock }()
		report, err := s.run(context.Background(), s.hub.broadcastProgress)
		if err != nil {
			s.log.Error().Err(err).Msg("Optimization run failed")
			s.hub.broadcastError(err)
			return
		}
		s.log.Info().Str("run_id", report.RunID).Msg("Optimization run finished")
		s.hub.broadcastDone(report.RunID)
	}()
	return true
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
