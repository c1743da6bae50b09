// Package worker provides the HTTP worker service for cohort.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/cohort/internal/config"
	gormdb "github.com/thebtf/cohort/internal/db/gorm"
	"github.com/thebtf/cohort/internal/embedding"
	"github.com/thebtf/cohort/internal/maintenance"
	"github.com/thebtf/cohort/internal/orchestrator"
	"github.com/thebtf/cohort/internal/vector/pgvector"
	"github.com/thebtf/cohort/pkg/models"
)

// Service configuration constants.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// redisMaxIdle is the idle connection count for the coordination pool.
	redisMaxIdle = 4
)

// clusterRunner is the orchestration surface the HTTP handlers need.
type clusterRunner interface {
	Enqueue(ctx context.Context, project string, refs ...models.FeedbackRef) error
	PendingCount(ctx context.Context, project string) (int, error)
	Trigger(ctx context.Context, project string) (*models.ClusterJob, error)
	GetJob(ctx context.Context, project, id string) (*models.ClusterJob, error)
	AnalyzeProjectClusters(ctx context.Context, project string) (*models.ClusterHealthReport, error)
	Wait()
}

// Service is the worker service: HTTP transport over the clustering
// orchestrator plus lifecycle management of its backing stores.
type Service struct {
	version string
	config  *config.Config
	logger  zerolog.Logger

	store *gormdb.Store
	pool  *redis.Pool
	orch  clusterRunner
	maint *maintenance.Service

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires the full worker: postgres, redis, the embedding
// provider, and the orchestrator.
func NewService(version string, cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := gormdb.NewStore(gormdb.Config{
		DSN:           cfg.Postgres.DSN,
		MaxConns:      cfg.Postgres.MaxConns,
		EmbeddingDims: cfg.Embedding.Dimensions,
		LogLevel:      gormlogger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	pool := &redis.Pool{
		MaxIdle:     redisMaxIdle,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Redis.Addr,
				redis.DialPassword(cfg.Redis.Password),
				redis.DialDatabase(cfg.Redis.DB),
			)
		},
	}

	indexes, err := pgvector.NewProvider(store.DB)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}

	embedder, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}

	locker, err := orchestrator.NewTenantLocker(pool, cfg.Redis.LockTTL)
	if err != nil {
		store.Close()
		return nil, err
	}
	pending, err := orchestrator.NewPendingSet(pool)
	if err != nil {
		store.Close()
		return nil, err
	}

	clusters := gormdb.NewClusterStore(store)
	orch, err := orchestrator.New(
		orchestrator.Config{
			Mode:           cfg.Clustering.Mode,
			Strategy:       cfg.Clustering.Strategy,
			SimThreshold:   cfg.Clustering.SimThreshold,
			MinClusterSize: cfg.Clustering.MinClusterSize,
			NeighborTop:    cfg.Clustering.NeighborTop,
		},
		locker,
		pending,
		embedder,
		indexes,
		clusters,
		gormdb.NewJobStore(store),
		logger,
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	maint := maintenance.NewService(maintenance.Config{
		Enabled:               cfg.Maintenance.Enabled,
		Interval:              cfg.Maintenance.Interval,
		ArchivedRetentionDays: cfg.Maintenance.ArchivedRetentionDays,
	}, orch, clusters, indexes, logger)

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:   version,
		config:    cfg,
		logger:    logger.With().Str("component", "worker").Logger(),
		store:     store,
		pool:      pool,
		orch:      orch,
		maint:     maint,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	svc.setupMiddleware()
	svc.setupRoutes()
	return svc, nil
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(requestLogger(s.logger))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api/projects/{project}", func(r chi.Router) {
		r.Post("/feedback", s.handleEnqueueFeedback)
		r.Post("/clustering/trigger", s.handleTrigger)
		r.Get("/clustering/jobs/{jobID}", s.handleGetJob)
		r.Get("/clusters/health", s.handleClusterHealth)
	})
}

// Router exposes the HTTP handler, used by tests and by Start.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Worker.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.maint.Start(s.ctx)

	s.logger.Info().
		Int("port", s.config.Worker.Port).
		Str("version", s.version).
		Str("mode", s.config.Clustering.Mode).
		Msg("Worker HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server, waits for in-flight clustering runs,
// and closes the backing stores.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.cancel()
	if s.maint != nil {
		s.maint.Wait()
	}
	s.orch.Wait()

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Redis pool close error")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Database close error")
		}
	}

	s.logger.Info().Msg("Worker service shutdown complete")
	return nil
}
