package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/internal/vector/memory"
	"github.com/thebtf/cohort/pkg/similarity"
)

type AssignSuite struct {
	suite.Suite
	ctx    context.Context
	idx    *memory.Index
	engine *Engine
	nextID int
}

func (s *AssignSuite) SetupTest() {
	s.ctx = context.Background()
	s.idx = memory.NewIndex()
	s.nextID = 0
	s.engine = New(s.idx, zerolog.Nop(), WithIDFunc(func() string {
		s.nextID++
		return "new-cluster"
	}))
}

func TestAssignSuite(t *testing.T) {
	suite.Run(t, new(AssignSuite))
}

func (s *AssignSuite) seed(id string, emb []float32, clusterID string) {
	s.Require().NoError(s.idx.Upsert(s.ctx, vector.Record{
		ID:        id,
		Embedding: similarity.Normalize(emb),
		Meta:      vector.Metadata{ClusterID: clusterID},
	}))
}

func (s *AssignSuite) TestNoNeighbors_Singleton() {
	s.seed("unrelated", []float32{0, 1, 0}, "c1")

	a, err := s.engine.Assign(s.ctx, "x", []float32{1, 0, 0})

	s.Require().NoError(err)
	s.True(a.IsNewCluster)
	s.Equal("new-cluster", a.ClusterID)
	s.Empty(a.GroupedFeedbackIDs)
	s.Equal(0.0, a.Score)
}

func (s *AssignSuite) TestJoinsHighestScoringClusteredNeighbor() {
	s.seed("close", []float32{0.99, 0.1, 0}, "alpha")
	s.seed("closer", []float32{0.999, 0.01, 0}, "beta")
	s.seed("unclustered-closest", []float32{1, 0, 0}, "")

	a, err := s.engine.Assign(s.ctx, "x", []float32{1, 0, 0})

	s.Require().NoError(err)
	s.False(a.IsNewCluster, "must join, not seed, when a clustered neighbor qualifies")
	s.Equal("beta", a.ClusterID, "must pick the single best clustered match, not vote")
	s.Empty(a.GroupedFeedbackIDs)
	s.Greater(a.Score, 0.99)
}

func (s *AssignSuite) TestSeedsClusterFromUnclusteredNeighbors() {
	s.seed("n1", []float32{0.99, 0.1, 0}, "")
	s.seed("n2", []float32{0.98, 0.15, 0}, "")
	s.seed("far", []float32{0, 1, 0}, "")

	a, err := s.engine.Assign(s.ctx, "x", []float32{1, 0, 0})

	s.Require().NoError(err)
	s.True(a.IsNewCluster)
	s.Equal("new-cluster", a.ClusterID)
	s.ElementsMatch([]string{"n1", "n2"}, a.GroupedFeedbackIDs,
		"unclustered neighbors are recommended for the same new cluster")

	// The engine only recommends: the neighbors' stored cluster ids must be
	// untouched until the caller writes the batch update.
	recs, err := s.idx.Fetch(s.ctx, []string{"n1", "n2"})
	s.Require().NoError(err)
	for _, rec := range recs {
		s.Empty(rec.Meta.ClusterID)
	}
}

func (s *AssignSuite) TestExcludesItself() {
	// The item's own vector may already be upserted before assignment.
	s.seed("x", []float32{1, 0, 0}, "")

	a, err := s.engine.Assign(s.ctx, "x", []float32{1, 0, 0})

	s.Require().NoError(err)
	s.True(a.IsNewCluster)
	s.Empty(a.GroupedFeedbackIDs)
}

func (s *AssignSuite) TestThresholdRespected() {
	s.seed("borderline", []float32{0.8, 0.6, 0}, "alpha") // sim 0.8 to x

	strict := New(s.idx, zerolog.Nop(), WithThreshold(0.9), WithIDFunc(func() string { return "solo" }))
	a, err := strict.Assign(s.ctx, "x", []float32{1, 0, 0})

	s.Require().NoError(err)
	s.True(a.IsNewCluster)
	s.Equal("solo", a.ClusterID)
}
