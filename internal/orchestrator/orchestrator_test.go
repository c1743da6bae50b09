package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/internal/vector/memory"
	"github.com/thebtf/cohort/pkg/models"
)

func seedRecord(id string, embedding []float32, clusterID string) vector.Record {
	return vector.Record{
		ID:        id,
		Embedding: embedding,
		Meta:      vector.Metadata{ClusterID: clusterID},
	}
}

// fakeEmbedder maps feedback text to fixed unit vectors. A non-nil block
// channel stalls EmbedBatch until it is closed, to hold a run in flight.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	block   chan struct{}
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectors[text]
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type memClusterStore struct {
	mu   sync.Mutex
	rows map[string]*models.Cluster
}

func newMemClusterStore() *memClusterStore {
	return &memClusterStore{rows: make(map[string]*models.Cluster)}
}

func (s *memClusterStore) Save(_ context.Context, c *models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.rows[c.Project+"/"+c.ID] = &cp
	return nil
}

func (s *memClusterStore) Get(_ context.Context, project, id string) (*models.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[project+"/"+id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *c
	return &cp, nil
}

func (s *memClusterStore) ListByProject(_ context.Context, project string) ([]*models.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Cluster
	for _, c := range s.rows {
		if c.Project == project {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memJobStore struct {
	mu   sync.Mutex
	rows map[string]*models.ClusterJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{rows: make(map[string]*models.ClusterJob)}
}

func (s *memJobStore) Save(_ context.Context, j *models.ClusterJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.rows[j.Project+"/"+j.ID] = &cp
	return nil
}

func (s *memJobStore) Get(_ context.Context, project, id string) (*models.ClusterJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[project+"/"+id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *j
	return &cp, nil
}

type OrchestratorSuite struct {
	suite.Suite
	mini     *miniredis.Miniredis
	pool     *redis.Pool
	locker   *TenantLocker
	pending  *PendingSet
	embedder *fakeEmbedder
	indexes  *memory.Provider
	clusters *memClusterStore
	jobs     *memJobStore
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	mini, err := miniredis.Run()
	s.Require().NoError(err)
	s.mini = mini
	s.pool = &redis.Pool{
		MaxIdle: 2,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", mini.Addr())
		},
	}
	s.locker, err = NewTenantLocker(s.pool, DefaultLockTTL)
	s.Require().NoError(err)
	s.pending, err = NewPendingSet(s.pool)
	s.Require().NoError(err)
	s.embedder = &fakeEmbedder{vectors: map[string][]float32{
		"login crashes on launch": {1, 0, 0},
		"app crashes after login": {0.9987, 0.05, 0},
		"dark mode please":        {0, 1, 0},
		"add a dark theme":        {0.05, 0.9987, 0},
		"invoice PDF garbled":     {0, 0, 1},
	}}
	s.indexes = memory.NewProvider()
	s.clusters = newMemClusterStore()
	s.jobs = newMemJobStore()
}

func (s *OrchestratorSuite) TearDownTest() {
	s.pool.Close()
	s.mini.Close()
}

func (s *OrchestratorSuite) newOrchestrator(cfg Config) *Orchestrator {
	o, err := New(cfg, s.locker, s.pending, s.embedder, s.indexes, s.clusters, s.jobs, zerolog.Nop())
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) TestEmptyPendingSucceedsWithZeroStats() {
	ctx := context.Background()
	o := s.newOrchestrator(DefaultConfig())

	job, err := o.Trigger(ctx, "proj-a")
	s.Require().NoError(err)
	o.Wait()

	got, err := o.GetJob(ctx, "proj-a", job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStateSucceeded, got.State)
	s.Equal(models.JobStats{}, got.Stats)
}

func (s *OrchestratorSuite) TestTriggerRejectedWhileLockHeld() {
	ctx := context.Background()
	o := s.newOrchestrator(DefaultConfig())

	acquired, err := s.locker.Acquire(ctx, "proj-a", "other-job")
	s.Require().NoError(err)
	s.Require().True(acquired)

	job, err := o.Trigger(ctx, "proj-a")
	s.Require().ErrorIs(err, ErrAlreadyRunning)
	o.Wait()

	got, err := o.GetJob(ctx, "proj-a", job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStateFailed, got.State)
	s.Equal("clustering already running for project", got.Error)

	// A different project is unaffected by proj-a's lock.
	other, err := o.Trigger(ctx, "proj-b")
	s.Require().NoError(err)
	o.Wait()
	got, err = o.GetJob(ctx, "proj-b", other.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStateSucceeded, got.State)
}

func (s *OrchestratorSuite) TestConcurrentTriggersExactlyOneRuns() {
	ctx := context.Background()
	block := make(chan struct{})
	s.embedder.block = block
	o := s.newOrchestrator(DefaultConfig())

	s.Require().NoError(o.Enqueue(ctx, "proj-a",
		models.FeedbackRef{ID: "f1", Text: "login crashes on launch"}))

	// Both triggers race for the lock while the winner's run is held in
	// flight inside the embedder.
	jobs := make([]*models.ClusterJob, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs[i], errs[i] = o.Trigger(ctx, "proj-a")
		}(i)
	}
	wg.Wait()
	close(block)
	o.Wait()

	var winners, losers int
	for i := range jobs {
		got, err := o.GetJob(ctx, "proj-a", jobs[i].ID)
		s.Require().NoError(err)
		if errs[i] == nil {
			winners++
			s.Equal(models.JobStateSucceeded, got.State, "job error: %s", got.Error)
		} else {
			losers++
			s.Require().ErrorIs(errs[i], ErrAlreadyRunning)
			s.Equal(models.JobStateFailed, got.State)
			s.Equal("clustering already running for project", got.Error)
		}
	}
	s.Equal(1, winners, "exactly one trigger may win the tenant lock")
	s.Equal(1, losers)
}

func (s *OrchestratorSuite) TestBatchRunClustersPendingItems() {
	ctx := context.Background()
	o := s.newOrchestrator(DefaultConfig())

	refs := []models.FeedbackRef{
		{ID: "f1", Title: "Login crash", Source: "appstore", Text: "login crashes on launch"},
		{ID: "f2", Title: "Crash after login", Source: "zendesk", Text: "app crashes after login"},
		{ID: "f3", Title: "Dark mode", Source: "twitter", Text: "dark mode please"},
		{ID: "f4", Title: "Dark theme", Source: "email", Text: "add a dark theme"},
		{ID: "f5", Title: "Broken invoice", Source: "email", Text: "invoice PDF garbled"},
	}
	s.Require().NoError(o.Enqueue(ctx, "proj-a", refs...))

	job, err := o.Trigger(ctx, "proj-a")
	s.Require().NoError(err)
	o.Wait()

	got, err := o.GetJob(ctx, "proj-a", job.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.JobStateSucceeded, got.State, "job error: %s", got.Error)
	s.Equal(models.JobStats{Clustered: 4, NewClusters: 2, Singletons: 1}, got.Stats)

	rows, err := s.clusters.ListByProject(ctx, "proj-a")
	s.Require().NoError(err)
	s.Len(rows, 3)

	// Every item got a cluster id in the index and left the pending set.
	recs, err := s.indexes.IndexFor("proj-a").Fetch(ctx, []string{"f1", "f2", "f3", "f4", "f5"})
	s.Require().NoError(err)
	s.Require().Len(recs, 5)
	byID := make(map[string]string, len(recs))
	for _, rec := range recs {
		s.NotEmpty(rec.Meta.ClusterID)
		byID[rec.ID] = rec.Meta.ClusterID
	}
	s.Equal(byID["f1"], byID["f2"])
	s.Equal(byID["f3"], byID["f4"])
	s.NotEqual(byID["f1"], byID["f3"])
	s.NotEqual(byID["f5"], byID["f1"])

	n, err := o.PendingCount(ctx, "proj-a")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *OrchestratorSuite) TestOnlineRunJoinsExistingCluster() {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Mode = ModeOnline
	o := s.newOrchestrator(cfg)

	idx := s.indexes.IndexFor("proj-a")
	s.Require().NoError(idx.Upsert(ctx, seedRecord("seed1", []float32{1, 0, 0}, "c-exist")))
	s.Require().NoError(s.clusters.Save(ctx, &models.Cluster{
		ID:        "c-exist",
		Project:   "proj-a",
		Title:     "Login crash",
		Status:    models.ClusterStatusActive,
		MemberIDs: models.JSONStringArray{"seed1"},
	}))

	s.Require().NoError(o.Enqueue(ctx, "proj-a", models.FeedbackRef{
		ID: "f2", Title: "Crash after login", Source: "zendesk", Text: "app crashes after login",
	}))

	job, err := o.Trigger(ctx, "proj-a")
	s.Require().NoError(err)
	o.Wait()

	got, err := o.GetJob(ctx, "proj-a", job.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.JobStateSucceeded, got.State, "job error: %s", got.Error)
	s.Equal(models.JobStats{Clustered: 1}, got.Stats)

	row, err := s.clusters.Get(ctx, "proj-a", "c-exist")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"seed1", "f2"}, []string(row.MemberIDs))

	recs, err := idx.Fetch(ctx, []string{"f2"})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("c-exist", recs[0].Meta.ClusterID)
}

func (s *OrchestratorSuite) TestRunFailureCapturesMessageAndReleasesLock() {
	ctx := context.Background()
	s.embedder.err = errors.New("embed backend down")
	o := s.newOrchestrator(DefaultConfig())

	s.Require().NoError(o.Enqueue(ctx, "proj-a", models.FeedbackRef{ID: "f1", Text: "login crashes on launch"}))

	job, err := o.Trigger(ctx, "proj-a")
	s.Require().NoError(err)
	o.Wait()

	got, err := o.GetJob(ctx, "proj-a", job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobStateFailed, got.State)
	s.Equal("embed backend down", got.Error)

	// The lock must not leak past a failed run.
	acquired, err := s.locker.Acquire(ctx, "proj-a", "next-job")
	s.Require().NoError(err)
	s.True(acquired)

	// Failed items stay pending for the next run.
	n, err := o.PendingCount(ctx, "proj-a")
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *OrchestratorSuite) TestAnalyzeProjectClusters() {
	ctx := context.Background()
	o := s.newOrchestrator(DefaultConfig())

	idx := s.indexes.IndexFor("proj-a")
	s.Require().NoError(idx.UpsertBatch(ctx, []vector.Record{
		seedRecord("f1", []float32{1, 0, 0}, "c1"),
		seedRecord("f2", []float32{0.9987, 0.05, 0}, "c1"),
		seedRecord("f3", []float32{0, 1, 0}, "c2"),
	}))
	s.Require().NoError(s.clusters.Save(ctx, &models.Cluster{
		ID: "c1", Project: "proj-a", MemberIDs: models.JSONStringArray{"f1", "f2"},
	}))
	s.Require().NoError(s.clusters.Save(ctx, &models.Cluster{
		ID: "c2", Project: "proj-a", MemberIDs: models.JSONStringArray{"f3"},
	}))

	report, err := o.AnalyzeProjectClusters(ctx, "proj-a")
	s.Require().NoError(err)
	s.Equal("proj-a", report.Project)
	s.Len(report.Cohesion, 2)
	for _, c := range report.Cohesion {
		s.Equal(models.QualityTight, c.Quality)
	}
	s.Empty(report.Outliers)
	s.Empty(report.Merges)
	for _, rec := range report.Splits {
		s.False(rec.Recommended)
	}
}

func TestPendingSetOrderAndDrain(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	pool := &redis.Pool{Dial: func() (redis.Conn, error) {
		return redis.Dial("tcp", mini.Addr())
	}}
	defer pool.Close()

	pending, err := NewPendingSet(pool)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, pending.Add(ctx, "proj-a",
		models.FeedbackRef{ID: "b", Text: "second"},
		models.FeedbackRef{ID: "a", Text: "first"},
	))
	require.NoError(t, pending.Add(ctx, "proj-a", models.FeedbackRef{ID: "c", Text: "third"}))

	refs, err := pending.List(ctx, "proj-a")
	require.NoError(t, err)
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	require.Equal(t, []string{"b", "a", "c"}, ids)

	require.NoError(t, pending.Drain(ctx, "proj-a", []string{"a", "b"}))
	// Draining already-removed ids is a no-op.
	require.NoError(t, pending.Drain(ctx, "proj-a", []string{"a", "b"}))

	n, err := pending.Count(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTenantLockerExclusivity(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()
	pool := &redis.Pool{Dial: func() (redis.Conn, error) {
		return redis.Dial("tcp", mini.Addr())
	}}
	defer pool.Close()

	locker, err := NewTenantLocker(pool, DefaultLockTTL)
	require.NoError(t, err)
	ctx := context.Background()

	acquired, err := locker.Acquire(ctx, "proj-a", "job-1")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = locker.Acquire(ctx, "proj-a", "job-2")
	require.NoError(t, err)
	require.False(t, acquired)

	// A foreign holder cannot release someone else's lock.
	require.NoError(t, locker.Release(ctx, "proj-a", "job-2"))
	acquired, err = locker.Acquire(ctx, "proj-a", "job-3")
	require.NoError(t, err)
	require.False(t, acquired)

	require.NoError(t, locker.Release(ctx, "proj-a", "job-1"))
	acquired, err = locker.Acquire(ctx, "proj-a", "job-3")
	require.NoError(t, err)
	require.True(t, acquired)
}
