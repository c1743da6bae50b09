package cluster

import (
	"fmt"

	"github.com/thebtf/cohort/pkg/models"
)

// Split advisor defaults.
const (
	DefaultLooseThreshold = 0.65
	DefaultSplitThreshold = 0.80
	DefaultMinSplitGain   = 0.05

	// minSplittableSize is the smallest cluster worth re-clustering: below
	// this, two sub-groups of two cannot exist.
	minSplittableSize = 4
)

// SplitAdvisor recommends splitting loose clusters by re-running
// agglomerative clustering at a stricter threshold on the cluster's members.
type SplitAdvisor struct {
	// LooseThreshold is the cohesion below which a cluster is considered
	// loose enough to examine.
	LooseThreshold float64
	// SplitThreshold is the stricter similarity threshold for re-clustering.
	SplitThreshold float64
	// MinGain is the minimum absolute cohesion improvement a split must
	// deliver to be recommended.
	MinGain float64
}

// NewSplitAdvisor returns an advisor with the default thresholds.
func NewSplitAdvisor() *SplitAdvisor {
	return &SplitAdvisor{
		LooseThreshold: DefaultLooseThreshold,
		SplitThreshold: DefaultSplitThreshold,
		MinGain:        DefaultMinSplitGain,
	}
}

// Analyze examines one cluster and recommends a split only when re-clustering
// at the stricter threshold yields at least two sub-groups whose size-weighted
// cohesion beats the current cohesion by MinGain. Every non-recommendation
// carries a human-readable reason for the caller to surface.
func (a *SplitAdvisor) Analyze(clusterID string, memberIDs []string, embeddings [][]float32) models.SplitRecommendation {
	rec := models.SplitRecommendation{
		ClusterID:       clusterID,
		CurrentCohesion: Cohesion(embeddings),
	}

	if len(embeddings) < minSplittableSize || len(memberIDs) != len(embeddings) {
		rec.Reason = "cluster too small to split"
		return rec
	}

	if rec.CurrentCohesion >= a.LooseThreshold {
		rec.Reason = "cluster already cohesive"
		return rec
	}

	labels := Agglomerative(embeddings, a.SplitThreshold)
	groups, _ := Partition(labels, 2)
	if len(groups) < 2 {
		rec.Reason = "no natural sub-groups at stricter threshold"
		return rec
	}

	var weighted float64
	total := 0
	subGroups := make([][]string, len(groups))
	for g, indices := range groups {
		embs := make([][]float32, len(indices))
		ids := make([]string, len(indices))
		for k, idx := range indices {
			embs[k] = embeddings[idx]
			ids[k] = memberIDs[idx]
		}
		weighted += Cohesion(embs) * float64(len(indices))
		total += len(indices)
		subGroups[g] = ids
	}
	projected := weighted / float64(total)

	rec.ProjectedCohesion = projected
	if projected < rec.CurrentCohesion+a.MinGain {
		rec.Reason = "insufficient cohesion improvement from split"
		return rec
	}

	rec.Recommended = true
	rec.SubGroups = subGroups
	rec.Reason = fmt.Sprintf("splitting into %d sub-groups improves cohesion %.2f -> %.2f",
		len(groups), rec.CurrentCohesion, projected)
	return rec
}
