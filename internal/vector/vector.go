// Package vector defines the adapter contract for the remote
// approximate-nearest-neighbor index that holds feedback embeddings.
// It is the system's only durable state for embeddings.
package vector

import (
	"context"
	"time"
)

// Metadata is the closed record schema stored alongside each embedding.
// ClusterID is the only field that mutates after creation, via reassignment.
type Metadata struct {
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	ClusterID string    `json:"cluster_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Record is one stored embedding with its metadata.
type Record struct {
	ID        string
	Embedding []float32
	Meta      Metadata
}

// QueryResult is one similarity search hit, most similar first.
type QueryResult struct {
	ID    string
	Score float64
	Meta  Metadata
}

// Reassignment moves one record to a new cluster.
type Reassignment struct {
	ID        string
	ClusterID string
}

// Index is the vector index adapter. Implementations must be safe for
// concurrent use across tenants; per-tenant serialization is the
// orchestrator's concern. Tie order between equal scores is
// index-internal and not guaranteed stable across implementations.
type Index interface {
	// Upsert writes or replaces a record. Idempotent.
	Upsert(ctx context.Context, rec Record) error
	// UpsertBatch writes or replaces many records.
	UpsertBatch(ctx context.Context, recs []Record) error
	// Fetch returns the records for the given ids, silently omitting
	// any that do not exist.
	Fetch(ctx context.Context, ids []string) ([]Record, error)
	// QuerySimilar returns up to topK records by descending similarity,
	// filtered to score >= minScore and id not in exclude.
	QuerySimilar(ctx context.Context, embedding []float32, topK int, minScore float64, exclude []string) ([]QueryResult, error)
	// QuerySimilarWithinCluster returns up to topK records belonging to the
	// given cluster, by descending similarity. Implemented by over-fetching
	// from the general index and filtering client-side, so callers must
	// tolerate O(topK) round-trip work.
	QuerySimilarWithinCluster(ctx context.Context, embedding []float32, clusterID string, topK int) ([]QueryResult, error)
	// Reassign overwrites one record's cluster id, preserving the stored
	// vector and all other metadata.
	Reassign(ctx context.Context, id, clusterID string) error
	// ReassignBatch applies many reassignments in one batched write.
	// Missing ids are stale references and are skipped silently.
	ReassignBatch(ctx context.Context, moves []Reassignment) error
	// Delete removes one record.
	Delete(ctx context.Context, id string) error
	// DeleteBatch removes many records.
	DeleteBatch(ctx context.Context, ids []string) error
	// Reset drops all records. Destructive, administrative only.
	Reset(ctx context.Context) error
}

// Provider hands out per-tenant index handles. Feedback from different
// tenants never shares an index view.
type Provider interface {
	IndexFor(tenant string) Index
}

// DistanceToSimilarity converts a cosine distance to a similarity score.
func DistanceToSimilarity(distance float64) float64 {
	return 1 - distance
}

// withinClusterOverFetch is the multiplier applied to topK when filtering a
// general similarity query down to one cluster.
const withinClusterOverFetch = 3

// QueryWithinCluster implements the within-cluster query contract on top of
// a general QuerySimilar, over-fetching and short-circuiting once topK
// matches are collected.
func QueryWithinCluster(ctx context.Context, idx Index, embedding []float32, clusterID string, topK int) ([]QueryResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	hits, err := idx.QuerySimilar(ctx, embedding, topK*withinClusterOverFetch, -1, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryResult, 0, topK)
	for _, hit := range hits {
		if hit.Meta.ClusterID != clusterID {
			continue
		}
		matches = append(matches, hit)
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}
