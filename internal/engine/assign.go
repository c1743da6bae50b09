// Package engine implements online cluster assignment for single feedback
// items arriving between batch runs.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/cohort/internal/vector"
)

// Assignment defaults.
const (
	DefaultThreshold   = 0.72
	DefaultNeighborTop = 20
)

// Assignment is the one-shot decision for a new item: it joined an existing
// cluster, seeded a new shared cluster, or became a singleton.
type Assignment struct {
	FeedbackID string
	ClusterID  string
	// IsNewCluster is true when ClusterID was freshly allocated (singleton
	// or seeded cluster).
	IsNewCluster bool
	// GroupedFeedbackIDs lists unclustered neighbors that should be moved
	// into the new cluster together with the item. The engine only
	// recommends; the caller performs the batch reassignment.
	GroupedFeedbackIDs []string
	// Score is the similarity to the joined neighbor, 0 when no neighbor
	// qualified.
	Score float64
}

// Engine decides cluster membership for one new embedding at a time by
// querying the vector index for similar neighbors.
type Engine struct {
	index     vector.Index
	threshold float64
	topK      int
	newID     func() string
	logger    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) { e.threshold = threshold }
}

// WithNeighborTop overrides how many neighbors are fetched.
func WithNeighborTop(topK int) Option {
	return func(e *Engine) { e.topK = topK }
}

// WithIDFunc overrides cluster id allocation.
func WithIDFunc(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New creates an assignment engine over the given index.
func New(index vector.Index, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		index:     index,
		threshold: DefaultThreshold,
		topK:      DefaultNeighborTop,
		newID:     uuid.NewString,
		logger:    logger.With().Str("component", "assignment-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign decides cluster membership for one item. The decision is terminal:
// the item joins the cluster of its single highest-scoring already-clustered
// neighbor, seeds a new cluster shared with its unclustered neighbors, or
// becomes a singleton when nothing qualifies. Ties between candidate
// clusters are broken by picking the single best match, never by majority
// vote, so a marginal item cannot drag whole neighborhoods into one cluster.
func (e *Engine) Assign(ctx context.Context, feedbackID string, embedding []float32) (Assignment, error) {
	neighbors, err := e.index.QuerySimilar(ctx, embedding, e.topK, e.threshold, []string{feedbackID})
	if err != nil {
		return Assignment{}, fmt.Errorf("query neighbors: %w", err)
	}

	if len(neighbors) == 0 {
		clusterID := e.newID()
		e.logger.Debug().
			Str("feedback_id", feedbackID).
			Str("cluster_id", clusterID).
			Msg("No qualifying neighbors, creating singleton cluster")
		return Assignment{
			FeedbackID:   feedbackID,
			ClusterID:    clusterID,
			IsNewCluster: true,
		}, nil
	}

	// Join the highest-scoring neighbor that already belongs to a cluster.
	// Results arrive in descending score order.
	for _, n := range neighbors {
		if n.Meta.ClusterID == "" {
			continue
		}
		e.logger.Debug().
			Str("feedback_id", feedbackID).
			Str("cluster_id", n.Meta.ClusterID).
			Float64("score", n.Score).
			Msg("Joining existing cluster of best neighbor")
		return Assignment{
			FeedbackID: feedbackID,
			ClusterID:  n.Meta.ClusterID,
			Score:      n.Score,
		}, nil
	}

	// All qualifying neighbors are unclustered: seed a shared cluster and
	// report the neighbors for the caller to reassign alongside the item.
	clusterID := e.newID()
	grouped := make([]string, len(neighbors))
	for i, n := range neighbors {
		grouped[i] = n.ID
	}
	e.logger.Debug().
		Str("feedback_id", feedbackID).
		Str("cluster_id", clusterID).
		Int("grouped", len(grouped)).
		Msg("Seeding new cluster with unclustered neighbors")
	return Assignment{
		FeedbackID:         feedbackID,
		ClusterID:          clusterID,
		IsNewCluster:       true,
		GroupedFeedbackIDs: grouped,
		Score:              neighbors[0].Score,
	}, nil
}
