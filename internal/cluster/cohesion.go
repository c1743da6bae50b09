package cluster

import (
	"sort"

	"github.com/thebtf/cohort/pkg/models"
	"github.com/thebtf/cohort/pkg/similarity"
)

// Quality classification thresholds. Fixed design constants, not tunables.
const (
	TightThreshold    = 0.85
	ModerateThreshold = 0.70

	// DefaultOutlierThreshold flags members whose average similarity to the
	// rest of the cluster falls below it.
	DefaultOutlierThreshold = 0.60

	// DefaultMergeThreshold is the centroid similarity above which two
	// clusters become merge candidates.
	DefaultMergeThreshold = 0.65
)

// Cohesion returns the average of all pairwise similarities among the given
// embeddings. Clusters of one or zero members are perfectly cohesive (1.0).
func Cohesion(embeddings [][]float32) float64 {
	n := len(embeddings)
	if n <= 1 {
		return 1.0
	}

	var sum float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += similarity.Cosine(embeddings[i], embeddings[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// ClassifyQuality maps an average pairwise similarity to a quality label.
func ClassifyQuality(avg float64) models.CohesionQuality {
	switch {
	case avg >= TightThreshold:
		return models.QualityTight
	case avg >= ModerateThreshold:
		return models.QualityModerate
	default:
		return models.QualityLoose
	}
}

// Measure computes the full cohesion snapshot for one cluster.
func Measure(clusterID string, embeddings [][]float32) models.ClusterCohesion {
	n := len(embeddings)
	if n <= 1 {
		return models.ClusterCohesion{
			ClusterID: clusterID,
			Avg:       1.0,
			Min:       1.0,
			Max:       1.0,
			ItemCount: n,
			Quality:   models.QualityTight,
		}
	}

	var sum float64
	minSim, maxSim := 1.0, -1.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := similarity.Cosine(embeddings[i], embeddings[j])
			sum += s
			if s < minSim {
				minSim = s
			}
			if s > maxSim {
				maxSim = s
			}
			pairs++
		}
	}

	avg := sum / float64(pairs)
	return models.ClusterCohesion{
		ClusterID: clusterID,
		Avg:       avg,
		Min:       minSim,
		Max:       maxSim,
		ItemCount: n,
		Quality:   ClassifyQuality(avg),
	}
}

// FindOutliers returns the members whose average similarity to every other
// member falls below the threshold, worst first. Requires at least two
// members; fewer returns an empty result.
func FindOutliers(ids []string, embeddings [][]float32, threshold float64) []models.OutlierResult {
	n := len(embeddings)
	if n < 2 || len(ids) != n {
		return nil
	}

	var outliers []models.OutlierResult
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sum += similarity.Cosine(embeddings[i], embeddings[j])
		}
		avg := sum / float64(n-1)
		if avg < threshold {
			outliers = append(outliers, models.OutlierResult{ID: ids[i], Score: avg})
		}
	}

	sort.Slice(outliers, func(a, b int) bool {
		if outliers[a].Score != outliers[b].Score {
			return outliers[a].Score < outliers[b].Score
		}
		return outliers[a].ID < outliers[b].ID
	})
	return outliers
}

// MergeCandidates reports all unordered cluster pairs whose centroid
// similarity meets the threshold, most similar first. O(C²) over cluster
// count; intended for periodic offline maintenance, not the request path.
func MergeCandidates(centroids map[string][]float32, threshold float64) []models.MergeCandidate {
	ids := make([]string, 0, len(centroids))
	for id := range centroids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var candidates []models.MergeCandidate
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			s := similarity.Cosine(centroids[ids[i]], centroids[ids[j]])
			if s >= threshold {
				candidates = append(candidates, models.MergeCandidate{
					ClusterA:   ids[i],
					ClusterB:   ids[j],
					Similarity: s,
				})
			}
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].Similarity > candidates[b].Similarity
	})
	return candidates
}
