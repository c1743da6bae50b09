// Package maintenance provides scheduled offline maintenance for cohort:
// periodic cluster health analysis across all projects and cleanup of
// long-archived clusters together with their stored vectors.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/pkg/models"
)

// startupDelay gives the rest of the system time to come up before the
// first maintenance run.
const startupDelay = 5 * time.Minute

// Analyzer produces cluster health reports. Implemented by the
// orchestrator.
type Analyzer interface {
	AnalyzeProjectClusters(ctx context.Context, project string) (*models.ClusterHealthReport, error)
}

// ClusterCatalog is the store surface maintenance needs.
type ClusterCatalog interface {
	Projects(ctx context.Context) ([]string, error)
	ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*models.Cluster, error)
	Delete(ctx context.Context, project, id string) error
}

// Config controls the maintenance loop.
type Config struct {
	Enabled  bool
	Interval time.Duration
	// ArchivedRetentionDays is how long archived clusters are kept. Zero
	// disables archived cleanup.
	ArchivedRetentionDays int
}

// Service runs scheduled maintenance tasks.
type Service struct {
	log      zerolog.Logger
	cfg      Config
	analyzer Analyzer
	catalog  ClusterCatalog
	indexes  vector.Provider

	stopCh chan struct{}
	doneCh chan struct{}

	mu              sync.Mutex
	running         bool
	lastRunTime     time.Time
	lastRunDuration time.Duration
	totalCleaned    int64
	totalMergeHints int64
	totalSplitHints int64
}

// NewService creates a maintenance service.
func NewService(cfg Config, analyzer Analyzer, catalog ClusterCatalog, indexes vector.Provider, log zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Service{
		log:      log.With().Str("component", "maintenance").Logger(),
		cfg:      cfg,
		analyzer: analyzer,
		catalog:  catalog,
		indexes:  indexes,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the maintenance loop. Blocks until stopped or the context
// is canceled; run it on its own goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.cfg.Enabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Int("retention_days", s.cfg.ArchivedRetentionDays).
		Msg("Starting maintenance scheduler")

	startup := time.NewTimer(startupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-startup.C:
	}
	s.runMaintenance(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// Stop signals the maintenance service to stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
}

// Wait waits for the maintenance service to finish.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunNow executes one maintenance pass synchronously. Exposed for operator
// tooling and tests.
func (s *Service) RunNow(ctx context.Context) {
	s.runMaintenance(ctx)
}

// runMaintenance executes all maintenance tasks.
func (s *Service) runMaintenance(ctx context.Context) {
	start := time.Now()
	s.log.Info().Msg("Starting maintenance run")

	var mergeHints, splitHints int64
	projects, err := s.catalog.Projects(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list projects")
	} else {
		for _, project := range projects {
			m, sp := s.analyzeProject(ctx, project)
			mergeHints += m
			splitHints += sp
		}
	}

	var cleaned int64
	if s.cfg.ArchivedRetentionDays > 0 {
		n, err := s.cleanupArchivedClusters(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to cleanup archived clusters")
		} else if n > 0 {
			s.log.Info().Int64("cleaned", n).Msg("Removed expired archived clusters")
		}
		cleaned = n
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.totalCleaned += cleaned
	s.totalMergeHints += mergeHints
	s.totalSplitHints += splitHints
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", time.Since(start)).
		Int64("clusters_cleaned", cleaned).
		Int64("merge_candidates", mergeHints).
		Int64("split_recommendations", splitHints).
		Msg("Maintenance run completed")
}

// analyzeProject builds one project's health report and logs the findings
// an operator should act on.
func (s *Service) analyzeProject(ctx context.Context, project string) (mergeHints, splitHints int64) {
	report, err := s.analyzer.AnalyzeProjectClusters(ctx, project)
	if err != nil {
		s.log.Error().Err(err).Str("project", project).Msg("Cluster health analysis failed")
		return 0, 0
	}

	for _, merge := range report.Merges {
		mergeHints++
		s.log.Info().
			Str("project", project).
			Str("cluster_a", merge.ClusterA).
			Str("cluster_b", merge.ClusterB).
			Float64("similarity", merge.Similarity).
			Msg("Merge candidate detected")
	}
	for _, split := range report.Splits {
		if !split.Recommended {
			continue
		}
		splitHints++
		s.log.Info().
			Str("project", project).
			Str("cluster_id", split.ClusterID).
			Str("reason", split.Reason).
			Msg("Split recommended")
	}
	for clusterID, outliers := range report.Outliers {
		s.log.Debug().
			Str("project", project).
			Str("cluster_id", clusterID).
			Int("outliers", len(outliers)).
			Msg("Cluster has outlier members")
	}
	return mergeHints, splitHints
}

// cleanupArchivedClusters deletes archived clusters past their retention,
// removing their vectors from the index first.
func (s *Service) cleanupArchivedClusters(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.ArchivedRetentionDays)

	expired, err := s.catalog.ListArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var cleaned int64
	for _, c := range expired {
		idx := s.indexes.IndexFor(c.Project)
		if len(c.MemberIDs) > 0 {
			if err := idx.DeleteBatch(ctx, c.MemberIDs); err != nil {
				s.log.Error().Err(err).
					Str("cluster_id", c.ID).
					Msg("Failed to delete cluster vectors")
				continue
			}
		}
		if err := s.catalog.Delete(ctx, c.Project, c.ID); err != nil {
			s.log.Error().Err(err).
				Str("cluster_id", c.ID).
				Msg("Failed to delete cluster record")
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"enabled":           s.cfg.Enabled,
		"interval":          s.cfg.Interval.String(),
		"retention_days":    s.cfg.ArchivedRetentionDays,
		"last_run":          s.lastRunTime,
		"last_duration_ms":  s.lastRunDuration.Milliseconds(),
		"total_cleaned":     s.totalCleaned,
		"total_merge_hints": s.totalMergeHints,
		"total_split_hints": s.totalSplitHints,
		"running":           s.running,
	}
}
