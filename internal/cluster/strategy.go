// Package cluster implements the batch clustering strategies and the
// cluster-quality analysis used by the clustering engine.
package cluster

import (
	"github.com/thebtf/cohort/pkg/similarity"
)

// Strategy names accepted by ForName.
const (
	StrategyAgglomerative = "agglomerative"
	StrategyCentroid      = "centroid"
	StrategyFirstMatch    = "firstmatch"
)

// LabelFunc partitions a batch of pre-normalized embeddings into integer
// labels of the same length. Labels are only meaningful as a partition;
// different strategies do not produce comparable label values.
type LabelFunc func(embeddings [][]float32, simThreshold float64) []int

// ForName returns the strategy for a configured name, defaulting to
// Agglomerative for unknown names.
func ForName(name string) LabelFunc {
	switch name {
	case StrategyCentroid:
		return Centroid
	case StrategyFirstMatch:
		return FirstMatch
	default:
		return Agglomerative
	}
}

// Agglomerative performs hierarchical average-linkage clustering with a
// cosine distance cutoff of 1-simThreshold: the closest pair of clusters is
// merged repeatedly until no merge would keep average similarity at or above
// the threshold. Two items can share a cluster without being directly
// similar, via chain linkage through intermediate members.
func Agglomerative(embeddings [][]float32, simThreshold float64) []int {
	n := len(embeddings)
	if n == 0 {
		return []int{}
	}
	if n == 1 {
		return []int{0}
	}

	// Pairwise similarity matrix.
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := similarity.Cosine(embeddings[i], embeddings[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}

	// Each item starts as its own cluster. link[a][b] holds the sum of
	// pairwise similarities between members of clusters a and b, so the
	// average linkage is link[a][b] / (|a|*|b|) without rescanning members.
	members := make([][]int, n)
	link := make([][]float64, n)
	active := make([]bool, n)
	for i := 0; i < n; i++ {
		members[i] = []int{i}
		link[i] = make([]float64, n)
		active[i] = true
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			link[i][j] = sim[i][j]
			link[j][i] = sim[i][j]
		}
	}

	for {
		bestA, bestB := -1, -1
		bestAvg := simThreshold
		for a := 0; a < n; a++ {
			if !active[a] {
				continue
			}
			for b := a + 1; b < n; b++ {
				if !active[b] {
					continue
				}
				avg := link[a][b] / float64(len(members[a])*len(members[b]))
				if avg >= bestAvg {
					bestA, bestB, bestAvg = a, b, avg
				}
			}
		}
		if bestA < 0 {
			break
		}

		// Merge bestB into bestA.
		members[bestA] = append(members[bestA], members[bestB]...)
		for c := 0; c < n; c++ {
			if !active[c] || c == bestA || c == bestB {
				continue
			}
			link[bestA][c] += link[bestB][c]
			link[c][bestA] = link[bestA][c]
		}
		active[bestB] = false
	}

	labels := make([]int, n)
	next := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for _, m := range members[i] {
			labels[m] = next
		}
		next++
	}
	return labels
}

// Centroid is a greedy online strategy: items are processed in input order
// and join the cluster whose running-mean centroid is most similar, if that
// similarity meets the threshold; otherwise they open a new cluster. The
// centroid is updated incrementally and renormalized after every update.
// Order-dependent by design: permuting the input can change the partition,
// so callers must supply a stable ordering.
func Centroid(embeddings [][]float32, simThreshold float64) []int {
	n := len(embeddings)
	labels := make([]int, n)
	if n == 0 {
		return labels
	}

	var centroids [][]float32
	var counts []int

	for i, e := range embeddings {
		best := -1
		bestSim := -2.0
		for c, centroid := range centroids {
			if s := similarity.Cosine(e, centroid); s > bestSim {
				best, bestSim = c, s
			}
		}

		if best >= 0 && bestSim >= simThreshold {
			labels[i] = best
			cnt := float64(counts[best])
			centroid := centroids[best]
			for d := range centroid {
				centroid[d] = float32((float64(centroid[d])*cnt + float64(e[d])) / (cnt + 1))
			}
			similarity.Normalize(centroid)
			counts[best]++
			continue
		}

		labels[i] = len(centroids)
		seed := make([]float32, len(e))
		copy(seed, e)
		centroids = append(centroids, seed)
		counts = append(counts, 1)
	}
	return labels
}

// FirstMatch assigns each item (in input order) to the cluster of the first
// earlier item whose similarity meets the threshold, seeding a new cluster
// when none qualifies. O(N²) by construction; it mirrors the online
// assignment engine's semantics for parity testing and is only suitable for
// small batches. Order-dependent by design.
func FirstMatch(embeddings [][]float32, simThreshold float64) []int {
	n := len(embeddings)
	labels := make([]int, n)
	next := 0

	for i := 0; i < n; i++ {
		assigned := false
		for j := 0; j < i; j++ {
			if similarity.Cosine(embeddings[i], embeddings[j]) >= simThreshold {
				labels[i] = labels[j]
				assigned = true
				break
			}
		}
		if !assigned {
			labels[i] = next
			next++
		}
	}
	return labels
}

// Partition splits label groups into clusters (size >= minClusterSize) and
// singletons (every other item, each remaining its own unit). Groups keep
// the order of their first member; member indices keep input order.
func Partition(labels []int, minClusterSize int) (clusters [][]int, singletons []int) {
	groups := make(map[int][]int)
	var order []int
	for i, l := range labels {
		if _, seen := groups[l]; !seen {
			order = append(order, l)
		}
		groups[l] = append(groups[l], i)
	}

	for _, l := range order {
		g := groups[l]
		if len(g) >= minClusterSize {
			clusters = append(clusters, g)
		} else {
			singletons = append(singletons, g...)
		}
	}
	return clusters, singletons
}
