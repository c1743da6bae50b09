package models

import "time"

// CohesionQuality classifies a cluster's average pairwise similarity.
type CohesionQuality string

const (
	QualityTight    CohesionQuality = "tight"
	QualityModerate CohesionQuality = "moderate"
	QualityLoose    CohesionQuality = "loose"
)

// ClusterCohesion is a derived quality snapshot for one cluster.
// Never persisted; recomputed on demand.
type ClusterCohesion struct {
	ClusterID string          `json:"cluster_id"`
	Avg       float64         `json:"avg"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	ItemCount int             `json:"item_count"`
	Quality   CohesionQuality `json:"quality"`
}

// OutlierResult flags one cluster member whose average similarity to the
// rest of the cluster fell below the outlier threshold.
type OutlierResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SplitRecommendation is the split advisor's verdict for one cluster.
// Advisory only; the caller decides whether to act on it.
type SplitRecommendation struct {
	ClusterID         string     `json:"cluster_id"`
	Recommended       bool       `json:"recommended"`
	Reason            string     `json:"reason"`
	SubGroups         [][]string `json:"sub_groups,omitempty"`
	CurrentCohesion   float64    `json:"current_cohesion"`
	ProjectedCohesion float64    `json:"projected_cohesion,omitempty"`
}

// MergeCandidate is an unordered pair of clusters whose centroids are
// similar enough to consider merging during offline maintenance.
type MergeCandidate struct {
	ClusterA   string  `json:"cluster_a"`
	ClusterB   string  `json:"cluster_b"`
	Similarity float64 `json:"similarity"`
}

// ClusterHealthReport aggregates cohesion, outlier, split, and merge
// analysis for all of a project's clusters.
type ClusterHealthReport struct {
	Project     string                     `json:"project"`
	Cohesion    []ClusterCohesion          `json:"cohesion"`
	Outliers    map[string][]OutlierResult `json:"outliers,omitempty"`
	Splits      []SplitRecommendation      `json:"splits,omitempty"`
	Merges      []MergeCandidate           `json:"merges,omitempty"`
	GeneratedAt time.Time                  `json:"generated_at"`
}
