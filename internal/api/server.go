package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/stepper/internal/app/submit"
	"github.com/slok/stepper/internal/checkpoint"
	"github.com/slok/stepper/internal/log"
	"github.com/slok/stepper/internal/model"
	"github.com/slok/stepper/internal/workqueue"
)

// JobQueue is the job queue exposed by the API.
type JobQueue interface {
	Get(id string) (*workqueue.Job, error)
	List(userID string, limit int) []workqueue.Job
	Cancel(id string) error
	Stats() workqueue.Stats
}

// Submitter submits executions to the job queue.
type Submitter interface {
	Run(ctx context.Context, req submit.Request) (string, error)
}

// CheckpointManager is the checkpoint management exposed by the API.
type CheckpointManager interface {
	Load(ctx context.Context, taskID string) (*model.Checkpoint, error)
	List(ctx context.Context, req checkpoint.ListRequest) ([]model.Checkpoint, error)
	Resumable(ctx context.Context, userID string) ([]model.Checkpoint, error)
	Pause(ctx context.Context, taskID string) (*model.Checkpoint, error)
	Statistics(ctx context.Context, userID string) (*checkpoint.Statistics, error)
}

// ServerConfig is the configuration of the HTTP API server.
type ServerConfig struct {
	Addr        string
	AuthToken   string
	Jobs        JobQueue
	Submitter   Submitter
	Checkpoints CheckpointManager
	// MCPHandler is mounted on `/mcp` when set.
	MCPHandler http.Handler
	Logger     log.Logger
	Now        func() time.Time
}

func (c *ServerConfig) defaults() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.Jobs == nil {
		return fmt.Errorf("jobs queue is required")
	}

	if c.Submitter == nil {
		return fmt.Errorf("submitter is required")
	}

	if c.Checkpoints == nil {
		return fmt.Errorf("checkpoint manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})

	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}

	return nil
}

// Server is the HTTP API server.
type Server struct {
	httpServer  *http.Server
	router      *chi.Mux
	jobs        JobQueue
	submitter   Submitter
	checkpoints CheckpointManager
	mcpHandler  http.Handler
	authToken   string
	logger      log.Logger
	now         func() time.Time
}

// NewServer returns a new HTTP API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:      router,
		jobs:        cfg.Jobs,
		submitter:   cfg.Submitter,
		checkpoints: cfg.Checkpoints,
		mcpHandler:  cfg.MCPHandler,
		authToken:   cfg.AuthToken,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP requests until the server is shut down.
func (s *Server) Start() error {
	s.logger.Infof("HTTP server listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.mcpHandler != nil {
		var h http.Handler = s.mcpHandler
		if s.authToken != "" {
			h = AuthMiddleware(s.authToken)(h)
		}
		s.router.Handle("/mcp", h)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/stats", s.handleStats)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleCancelJob)
			})
		})

		r.Route("/checkpoints", func(r chi.Router) {
			r.Get("/", s.handleListCheckpoints)

			r.Route("/{checkpointID}", func(r chi.Router) {
				r.Get("/", s.handleGetCheckpoint)
				r.Post("/pause", s.handlePauseCheckpoint)
				r.Post("/resume", s.handleResumeCheckpoint)
			})
		})
	})
}
