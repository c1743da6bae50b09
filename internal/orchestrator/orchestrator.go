// Package orchestrator coordinates clustering runs per tenant: it owns the
// tenant lock, the pending-work set, and the job lifecycle, and drives either
// the batch strategies or the online assignment engine over the vector index.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/cohort/internal/cluster"
	"github.com/thebtf/cohort/internal/embedding"
	"github.com/thebtf/cohort/internal/engine"
	"github.com/thebtf/cohort/internal/privacy"
	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/pkg/models"
	"github.com/thebtf/cohort/pkg/similarity"
)

// ErrAlreadyRunning is returned when a trigger loses the tenant lock race.
// The message is stored verbatim on the losing job.
var ErrAlreadyRunning = errors.New("clustering already running for project")

// Run modes.
const (
	ModeBatch  = "batch"
	ModeOnline = "online"
)

// Config controls how clustering runs execute.
type Config struct {
	// Mode selects batch reclustering or per-item online assignment.
	Mode string
	// Strategy names the batch labeling strategy.
	Strategy string
	// SimThreshold is the similarity threshold for both modes.
	SimThreshold float64
	// MinClusterSize is the smallest label group kept as a cluster in batch
	// mode. Smaller groups fall back to singletons.
	MinClusterSize int
	// NeighborTop is the online neighbor fetch size.
	NeighborTop int
}

// DefaultConfig returns the standard run configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeBatch,
		Strategy:       cluster.StrategyAgglomerative,
		SimThreshold:   engine.DefaultThreshold,
		MinClusterSize: 2,
		NeighborTop:    engine.DefaultNeighborTop,
	}
}

// ClusterStore persists clusters.
type ClusterStore interface {
	Save(ctx context.Context, c *models.Cluster) error
	Get(ctx context.Context, project, id string) (*models.Cluster, error)
	ListByProject(ctx context.Context, project string) ([]*models.Cluster, error)
}

// JobStore persists clustering jobs.
type JobStore interface {
	Save(ctx context.Context, j *models.ClusterJob) error
	Get(ctx context.Context, project, id string) (*models.ClusterJob, error)
}

// Orchestrator runs clustering jobs. Safe for concurrent use; per-tenant
// mutual exclusion is enforced through the redis lock, not process-local
// state, so it holds across replicas.
type Orchestrator struct {
	cfg      Config
	locker   *TenantLocker
	pending  *PendingSet
	embedder embedding.Provider
	indexes  vector.Provider
	clusters ClusterStore
	jobs     JobStore
	advisor  *cluster.SplitAdvisor
	logger   zerolog.Logger

	analyze singleflight.Group
	wg      sync.WaitGroup
	newID   func() string
	now     func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, locker *TenantLocker, pending *PendingSet, embedder embedding.Provider, indexes vector.Provider, clusters ClusterStore, jobs JobStore, logger zerolog.Logger) (*Orchestrator, error) {
	if locker == nil || pending == nil {
		return nil, fmt.Errorf("locker and pending set are required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if indexes == nil {
		return nil, fmt.Errorf("vector index provider is required")
	}
	if clusters == nil || jobs == nil {
		return nil, fmt.Errorf("cluster and job stores are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBatch
	}
	if cfg.SimThreshold <= 0 {
		cfg.SimThreshold = engine.DefaultThreshold
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 2
	}
	if cfg.NeighborTop <= 0 {
		cfg.NeighborTop = engine.DefaultNeighborTop
	}
	return &Orchestrator{
		cfg:      cfg,
		locker:   locker,
		pending:  pending,
		embedder: embedder,
		indexes:  indexes,
		clusters: clusters,
		jobs:     jobs,
		advisor:  cluster.NewSplitAdvisor(),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		newID:    uuid.NewString,
		now:      time.Now,
	}, nil
}

// Enqueue adds feedback refs to a project's pending-work set. Secrets are
// redacted before the text is stored anywhere.
func (o *Orchestrator) Enqueue(ctx context.Context, project string, refs ...models.FeedbackRef) error {
	clean := make([]models.FeedbackRef, len(refs))
	for i, ref := range refs {
		clean[i] = privacy.RedactFeedback(ref)
	}
	return o.pending.Add(ctx, project, clean...)
}

// PendingCount reports how many items await clustering for a project.
func (o *Orchestrator) PendingCount(ctx context.Context, project string) (int, error) {
	return o.pending.Count(ctx, project)
}

// Trigger starts a clustering run for a project. It returns the job record
// immediately; the run proceeds on a background goroutine and progress is
// observed by polling GetJob. When another run already holds the tenant
// lock the job fails at once with ErrAlreadyRunning's message, and
// ErrAlreadyRunning is returned alongside the failed record.
func (o *Orchestrator) Trigger(ctx context.Context, project string) (*models.ClusterJob, error) {
	job := models.NewClusterJob(project)
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	acquired, err := o.locker.Acquire(ctx, project, job.ID)
	if err != nil {
		job.MarkFailed(err.Error())
		if saveErr := o.jobs.Save(ctx, job); saveErr != nil {
			o.logger.Error().Err(saveErr).Str("job_id", job.ID).Msg("Failed to persist job state")
		}
		return job, fmt.Errorf("acquire tenant lock: %w", err)
	}
	if !acquired {
		job.MarkFailed(ErrAlreadyRunning.Error())
		if saveErr := o.jobs.Save(ctx, job); saveErr != nil {
			o.logger.Error().Err(saveErr).Str("job_id", job.ID).Msg("Failed to persist job state")
		}
		o.logger.Info().
			Str("project", project).
			Str("job_id", job.ID).
			Msg("Trigger rejected, another run holds the tenant lock")
		return job, ErrAlreadyRunning
	}

	// Detach from the caller's deadline; the run outlives the trigger
	// request. The lock is released even when the run fails.
	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if err := o.locker.Release(runCtx, project, job.ID); err != nil {
				o.logger.Error().Err(err).Str("project", project).Msg("Failed to release tenant lock")
			}
		}()
		o.run(runCtx, job)
	}()

	return job, nil
}

// GetJob fetches a job record.
func (o *Orchestrator) GetJob(ctx context.Context, project, id string) (*models.ClusterJob, error) {
	return o.jobs.Get(ctx, project, id)
}

// Wait blocks until all in-flight runs finish. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, job *models.ClusterJob) {
	job.MarkRunning()
	if err := o.jobs.Save(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job state")
	}

	started := o.now()
	stats, err := o.process(ctx, job.Project)
	if err != nil {
		job.MarkFailed(err.Error())
		o.logger.Error().
			Err(err).
			Str("project", job.Project).
			Str("job_id", job.ID).
			Msg("Clustering run failed")
	} else {
		job.MarkSucceeded(stats)
		o.logger.Info().
			Str("project", job.Project).
			Str("job_id", job.ID).
			Int("clustered", stats.Clustered).
			Int("new_clusters", stats.NewClusters).
			Int("singletons", stats.Singletons).
			Dur("duration", o.now().Sub(started)).
			Msg("Clustering run complete")
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job state")
	}
}

// process drains the project's pending set through the configured mode.
// An empty pending set succeeds immediately with zero stats.
func (o *Orchestrator) process(ctx context.Context, project string) (models.JobStats, error) {
	var stats models.JobStats

	refs, err := o.pending.List(ctx, project)
	if err != nil {
		return stats, err
	}
	if len(refs) == 0 {
		return stats, nil
	}

	texts := make([]string, len(refs))
	for i, ref := range refs {
		texts[i] = ref.Text
	}
	embeddings, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, err
	}
	if len(embeddings) != len(refs) {
		return stats, fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(texts), len(embeddings))
	}

	idx := o.indexes.IndexFor(project)

	switch o.cfg.Mode {
	case ModeOnline:
		stats, err = o.processOnline(ctx, idx, project, refs, embeddings)
	default:
		stats, err = o.processBatch(ctx, idx, project, refs, embeddings)
	}
	if err != nil {
		return models.JobStats{}, err
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	if err := o.pending.Drain(ctx, project, ids); err != nil {
		return models.JobStats{}, err
	}
	return stats, nil
}

// processBatch labels the whole pending batch with the configured strategy
// and writes each group as a fresh cluster. Items below the minimum group
// size become single-member clusters, counted as singletons.
func (o *Orchestrator) processBatch(ctx context.Context, idx vector.Index, project string, refs []models.FeedbackRef, embeddings [][]float32) (models.JobStats, error) {
	var stats models.JobStats

	labels := cluster.ForName(o.cfg.Strategy)(embeddings, o.cfg.SimThreshold)
	groups, singletons := cluster.Partition(labels, o.cfg.MinClusterSize)

	now := o.now().UTC()
	recs := make([]vector.Record, 0, len(refs))

	writeCluster := func(members []int) error {
		c := &models.Cluster{
			ID:        o.newID(),
			Project:   project,
			Title:     refs[members[0]].Title,
			Status:    models.ClusterStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, i := range members {
			c.AddMember(refs[i].ID)
			c.AddSource(refs[i].Source)
			recs = append(recs, vector.Record{
				ID:        refs[i].ID,
				Embedding: embeddings[i],
				Meta: vector.Metadata{
					Title:     refs[i].Title,
					Source:    refs[i].Source,
					ClusterID: c.ID,
					CreatedAt: now,
				},
			})
		}
		return o.clusters.Save(ctx, c)
	}

	for _, group := range groups {
		if err := writeCluster(group); err != nil {
			return models.JobStats{}, err
		}
		stats.Clustered += len(group)
		stats.NewClusters++
	}
	for _, i := range singletons {
		if err := writeCluster([]int{i}); err != nil {
			return models.JobStats{}, err
		}
		stats.Singletons++
	}

	if err := idx.UpsertBatch(ctx, recs); err != nil {
		return models.JobStats{}, err
	}
	return stats, nil
}

// processOnline feeds pending items one at a time through the assignment
// engine, applying each decision before the next item is considered.
func (o *Orchestrator) processOnline(ctx context.Context, idx vector.Index, project string, refs []models.FeedbackRef, embeddings [][]float32) (models.JobStats, error) {
	var stats models.JobStats

	eng := engine.New(idx, o.logger,
		engine.WithThreshold(o.cfg.SimThreshold),
		engine.WithNeighborTop(o.cfg.NeighborTop),
		engine.WithIDFunc(o.newID),
	)

	for i, ref := range refs {
		now := o.now().UTC()
		rec := vector.Record{
			ID:        ref.ID,
			Embedding: embeddings[i],
			Meta: vector.Metadata{
				Title:     ref.Title,
				Source:    ref.Source,
				CreatedAt: now,
			},
		}
		if err := idx.Upsert(ctx, rec); err != nil {
			return models.JobStats{}, err
		}

		asg, err := eng.Assign(ctx, ref.ID, embeddings[i])
		if err != nil {
			return models.JobStats{}, err
		}
		if err := o.applyAssignment(ctx, idx, project, ref, asg, &stats); err != nil {
			return models.JobStats{}, err
		}
	}
	return stats, nil
}

// applyAssignment writes one assignment decision to the index and the
// cluster store.
func (o *Orchestrator) applyAssignment(ctx context.Context, idx vector.Index, project string, ref models.FeedbackRef, asg engine.Assignment, stats *models.JobStats) error {
	moves := []vector.Reassignment{{ID: ref.ID, ClusterID: asg.ClusterID}}
	for _, id := range asg.GroupedFeedbackIDs {
		moves = append(moves, vector.Reassignment{ID: id, ClusterID: asg.ClusterID})
	}
	if err := idx.ReassignBatch(ctx, moves); err != nil {
		return err
	}

	now := o.now().UTC()
	var c *models.Cluster
	if asg.IsNewCluster {
		c = &models.Cluster{
			ID:        asg.ClusterID,
			Project:   project,
			Title:     ref.Title,
			Status:    models.ClusterStatusActive,
			CreatedAt: now,
		}
	} else {
		existing, err := o.clusters.Get(ctx, project, asg.ClusterID)
		if err != nil {
			return fmt.Errorf("load cluster %s: %w", asg.ClusterID, err)
		}
		c = existing
	}
	c.AddMember(ref.ID)
	c.AddSource(ref.Source)

	if len(asg.GroupedFeedbackIDs) > 0 {
		grouped, err := idx.Fetch(ctx, asg.GroupedFeedbackIDs)
		if err != nil {
			return err
		}
		for _, g := range grouped {
			c.AddMember(g.ID)
			c.AddSource(g.Meta.Source)
		}
	}
	c.UpdatedAt = now
	if err := o.clusters.Save(ctx, c); err != nil {
		return err
	}

	switch {
	case !asg.IsNewCluster:
		stats.Clustered++
	case len(asg.GroupedFeedbackIDs) > 0:
		stats.NewClusters++
		stats.Clustered += 1 + len(asg.GroupedFeedbackIDs)
	default:
		stats.Singletons++
	}
	return nil
}

// AnalyzeProjectClusters builds a health report over all of a project's
// clusters: cohesion, outliers, split advice, and cross-cluster merge
// candidates. Concurrent calls for the same project share one computation.
func (o *Orchestrator) AnalyzeProjectClusters(ctx context.Context, project string) (*models.ClusterHealthReport, error) {
	v, err, _ := o.analyze.Do(project, func() (interface{}, error) {
		return o.buildHealthReport(ctx, project)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ClusterHealthReport), nil
}

func (o *Orchestrator) buildHealthReport(ctx context.Context, project string) (*models.ClusterHealthReport, error) {
	clusterRows, err := o.clusters.ListByProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	idx := o.indexes.IndexFor(project)
	report := &models.ClusterHealthReport{
		Project:     project,
		Outliers:    make(map[string][]models.OutlierResult),
		GeneratedAt: o.now().UTC(),
	}
	centroids := make(map[string][]float32, len(clusterRows))

	for _, c := range clusterRows {
		recs, err := idx.Fetch(ctx, c.MemberIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch members of cluster %s: %w", c.ID, err)
		}
		ids := make([]string, len(recs))
		embs := make([][]float32, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
			embs[i] = rec.Embedding
		}

		report.Cohesion = append(report.Cohesion, cluster.Measure(c.ID, embs))
		if outs := cluster.FindOutliers(ids, embs, cluster.DefaultOutlierThreshold); len(outs) > 0 {
			report.Outliers[c.ID] = outs
		}
		report.Splits = append(report.Splits, o.advisor.Analyze(c.ID, ids, embs))
		if len(embs) > 0 {
			centroids[c.ID] = similarity.Centroid(embs)
		}
	}

	report.Merges = cluster.MergeCandidates(centroids, cluster.DefaultMergeThreshold)
	return report, nil
}
