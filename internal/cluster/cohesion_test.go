package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/cohort/pkg/models"
	"github.com/thebtf/cohort/pkg/similarity"
)

func TestCohesion_EmptyAndSingletonArePerfect(t *testing.T) {
	assert.Equal(t, 1.0, Cohesion(nil))
	assert.Equal(t, 1.0, Cohesion([][]float32{unit(42)}))
}

func TestCohesion_SymmetricUnderReversal(t *testing.T) {
	embs := [][]float32{unit(0), unit(20), unit(80), unit(130)}
	reversed := make([][]float32, len(embs))
	for i := range embs {
		reversed[i] = embs[len(embs)-1-i]
	}

	assert.InDelta(t, Cohesion(embs), Cohesion(reversed), 1e-9)
}

func TestCohesion_Bounds(t *testing.T) {
	tight := Cohesion([][]float32{unit(0), unit(1), unit(2)})
	assert.Greater(t, tight, 0.99)

	spread := Cohesion([][]float32{unit(0), unit(90)})
	assert.InDelta(t, 0.0, spread, 1e-6)
}

func TestClassifyQuality(t *testing.T) {
	assert.Equal(t, models.QualityTight, ClassifyQuality(0.85))
	assert.Equal(t, models.QualityTight, ClassifyQuality(0.99))
	assert.Equal(t, models.QualityModerate, ClassifyQuality(0.70))
	assert.Equal(t, models.QualityModerate, ClassifyQuality(0.84))
	assert.Equal(t, models.QualityLoose, ClassifyQuality(0.69))
}

func TestMeasure_SingletonIsTight(t *testing.T) {
	c := Measure("c1", [][]float32{unit(10)})

	assert.Equal(t, 1.0, c.Avg)
	assert.Equal(t, models.QualityTight, c.Quality)
	assert.Equal(t, 1, c.ItemCount)
}

func TestMeasure_MinMax(t *testing.T) {
	c := Measure("c1", [][]float32{unit(0), unit(10), unit(60)})

	assert.Equal(t, 3, c.ItemCount)
	assert.Less(t, c.Min, c.Max)
	assert.GreaterOrEqual(t, c.Avg, c.Min)
	assert.LessOrEqual(t, c.Avg, c.Max)
}

func TestFindOutliers_UnrelatedItemFlaggedWorstFirst(t *testing.T) {
	ids := []string{"a", "b", "c"}
	embs := [][]float32{
		similarity.Normalize([]float32{1, 0, 0}),
		similarity.Normalize([]float32{0.999, 0.01, 0}),
		similarity.Normalize([]float32{0, 1, 0}),
	}

	outliers := FindOutliers(ids, embs, DefaultOutlierThreshold)

	require.Len(t, outliers, 1)
	assert.Equal(t, "c", outliers[0].ID)
	assert.Less(t, outliers[0].Score, DefaultOutlierThreshold)
}

func TestFindOutliers_RequiresTwoMembers(t *testing.T) {
	assert.Empty(t, FindOutliers([]string{"a"}, [][]float32{unit(0)}, 0.6))
	assert.Empty(t, FindOutliers(nil, nil, 0.6))
}

func TestFindOutliers_SortedAscending(t *testing.T) {
	// Two stragglers at different distances from a tight core; the worse
	// one must come first. The core is large enough that its members stay
	// above the threshold despite the stragglers dragging averages down.
	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "far", "worst"}
	embs := [][]float32{
		unit(0), unit(1), unit(2), unit(3), unit(4), unit(5), unit(6), unit(7),
		unit(60), unit(95),
	}

	outliers := FindOutliers(ids, embs, 0.6)

	require.Len(t, outliers, 2)
	assert.Equal(t, "worst", outliers[0].ID)
	assert.Equal(t, "far", outliers[1].ID)
	assert.LessOrEqual(t, outliers[0].Score, outliers[1].Score)
}

func TestMergeCandidates_PairsAboveThreshold(t *testing.T) {
	centroids := map[string][]float32{
		"auth-errors":  unit(0),
		"login-errors": unit(15),
		"billing":      unit(90),
	}

	candidates := MergeCandidates(centroids, DefaultMergeThreshold)

	require.Len(t, candidates, 1)
	assert.Equal(t, "auth-errors", candidates[0].ClusterA)
	assert.Equal(t, "login-errors", candidates[0].ClusterB)
	assert.Greater(t, candidates[0].Similarity, 0.9)
}

func TestMergeCandidates_Empty(t *testing.T) {
	assert.Empty(t, MergeCandidates(nil, 0.65))
	assert.Empty(t, MergeCandidates(map[string][]float32{"only": unit(0)}, 0.65))
}
