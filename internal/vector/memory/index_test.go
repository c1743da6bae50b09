package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/cohort/internal/vector"
	"github.com/thebtf/cohort/pkg/similarity"
)

type IndexSuite struct {
	suite.Suite
	ctx context.Context
	idx *Index
}

func (s *IndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.idx = NewIndex()
}

func TestIndexSuite(t *testing.T) {
	suite.Run(t, new(IndexSuite))
}

func (s *IndexSuite) seed(id string, emb []float32, clusterID string) {
	err := s.idx.Upsert(s.ctx, vector.Record{
		ID:        id,
		Embedding: similarity.Normalize(emb),
		Meta:      vector.Metadata{Title: "t-" + id, Source: "github", ClusterID: clusterID},
	})
	s.Require().NoError(err)
}

func (s *IndexSuite) TestUpsertIsIdempotent() {
	s.seed("a", []float32{1, 0}, "")
	s.seed("a", []float32{0, 1}, "c1")

	s.Equal(1, s.idx.Count())
	recs, err := s.idx.Fetch(s.ctx, []string{"a"})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("c1", recs[0].Meta.ClusterID)
}

func (s *IndexSuite) TestQuerySimilar_ScoreFloorAndExclusion() {
	s.seed("near", []float32{0.99, 0.1}, "")
	s.seed("mid", []float32{0.7, 0.7}, "")
	s.seed("far", []float32{0, 1}, "")
	s.seed("self", []float32{1, 0}, "")

	query := similarity.Normalize([]float32{1, 0})
	hits, err := s.idx.QuerySimilar(s.ctx, query, 10, 0.5, []string{"self"})

	s.Require().NoError(err)
	s.Require().Len(hits, 2)
	s.Equal("near", hits[0].ID)
	s.Equal("mid", hits[1].ID)
	s.GreaterOrEqual(hits[0].Score, hits[1].Score)
}

func (s *IndexSuite) TestQuerySimilar_TopKLimit() {
	for i := 0; i < 10; i++ {
		s.seed(fmt.Sprintf("r%d", i), []float32{1, float32(i) * 0.01}, "")
	}

	hits, err := s.idx.QuerySimilar(s.ctx, []float32{1, 0}, 3, 0, nil)

	s.Require().NoError(err)
	s.Len(hits, 3)
}

func (s *IndexSuite) TestQuerySimilarWithinCluster_FiltersAndShortCircuits() {
	s.seed("a1", []float32{1, 0.01}, "alpha")
	s.seed("b1", []float32{1, 0.02}, "beta")
	s.seed("a2", []float32{1, 0.03}, "alpha")
	s.seed("b2", []float32{1, 0.04}, "beta")
	s.seed("a3", []float32{1, 0.05}, "alpha")

	hits, err := s.idx.QuerySimilarWithinCluster(s.ctx, []float32{1, 0}, "alpha", 2)

	s.Require().NoError(err)
	s.Require().Len(hits, 2)
	s.Equal("a1", hits[0].ID)
	s.Equal("a2", hits[1].ID)
}

func (s *IndexSuite) TestReassignBatch_SkipsMissingIDs() {
	s.seed("a", []float32{1, 0}, "")
	s.seed("b", []float32{0, 1}, "")

	err := s.idx.ReassignBatch(s.ctx, []vector.Reassignment{
		{ID: "a", ClusterID: "c1"},
		{ID: "vanished", ClusterID: "c1"},
		{ID: "b", ClusterID: "c2"},
	})

	s.Require().NoError(err, "a stale reference must not be an error")
	recs, err := s.idx.Fetch(s.ctx, []string{"a", "b"})
	s.Require().NoError(err)
	s.Equal("c1", recs[0].Meta.ClusterID)
	s.Equal("c2", recs[1].Meta.ClusterID)
}

func (s *IndexSuite) TestReassignPreservesVectorAndMetadata() {
	s.seed("a", []float32{3, 4}, "")

	s.Require().NoError(s.idx.Reassign(s.ctx, "a", "c9"))

	recs, err := s.idx.Fetch(s.ctx, []string{"a"})
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("c9", recs[0].Meta.ClusterID)
	s.Equal("t-a", recs[0].Meta.Title)
	s.InDelta(0.6, float64(recs[0].Embedding[0]), 1e-6)
}

func (s *IndexSuite) TestDeleteAndReset() {
	s.seed("a", []float32{1, 0}, "")
	s.seed("b", []float32{0, 1}, "")

	s.Require().NoError(s.idx.Delete(s.ctx, "a"))
	s.Equal(1, s.idx.Count())

	s.Require().NoError(s.idx.Reset(s.ctx))
	s.Equal(0, s.idx.Count())
}

func TestProvider_SeparateIndexPerTenant(t *testing.T) {
	ctx := context.Background()
	p := NewProvider()

	a := p.IndexFor("tenant-a")
	b := p.IndexFor("tenant-b")
	require.NoError(t, a.Upsert(ctx, vector.Record{ID: "x", Embedding: []float32{1, 0}}))

	hits, err := b.QuerySimilar(ctx, []float32{1, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "tenants must never share index state")
	assert.Same(t, a, p.IndexFor("tenant-a"))
}
