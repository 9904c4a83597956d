package rfm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfm-cohort/pkg/models"
)

func TestPercentile_Interpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.2, 1.8},
		{0.4, 2.6},
		{0.5, 3},
		{0.6, 3.4},
		{0.8, 4.2},
		{1, 5},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, Percentile(sorted, c.p), 1e-9, "p=%v", c.p)
	}
	assert.Equal(t, 7.0, Percentile([]float64{7}, 0.8))
}

func TestComputeBreakpoints(t *testing.T) {
	bp, err := ComputeBreakpoints([]float64{50, 10, 40, 20, 30})
	require.NoError(t, err)
	assert.InDelta(t, 18, bp.P20, 1e-9)
	assert.InDelta(t, 26, bp.P40, 1e-9)
	assert.InDelta(t, 34, bp.P60, 1e-9)
	assert.InDelta(t, 42, bp.P80, 1e-9)

	_, err = ComputeBreakpoints(nil)
	require.Error(t, err)
}

func TestBreakpointsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := 1 + rng.Intn(60)
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(rng.Intn(20)) * rng.Float64() * 100
		}
		bp, err := ComputeBreakpoints(values)
		require.NoError(t, err)
		require.LessOrEqual(t, bp.P20, bp.P40)
		require.LessOrEqual(t, bp.P40, bp.P60)
		require.LessOrEqual(t, bp.P60, bp.P80)
	}
}

func TestScoreBoundaries(t *testing.T) {
	bp := models.Breakpoints{P20: 18, P40: 26, P60: 34, P80: 42}

	assert.Equal(t, 5, ScoreRecency(10, bp))
	assert.Equal(t, 5, ScoreRecency(18, bp))
	assert.Equal(t, 4, ScoreRecency(18.5, bp))
	assert.Equal(t, 3, ScoreRecency(34, bp))
	assert.Equal(t, 2, ScoreRecency(42, bp))
	assert.Equal(t, 1, ScoreRecency(42.1, bp))

	assert.Equal(t, 5, ScoreHigherBetter(42, bp))
	assert.Equal(t, 4, ScoreHigherBetter(41.9, bp))
	assert.Equal(t, 4, ScoreHigherBetter(34, bp))
	assert.Equal(t, 3, ScoreHigherBetter(26, bp))
	assert.Equal(t, 2, ScoreHigherBetter(18, bp))
	assert.Equal(t, 1, ScoreHigherBetter(17.9, bp))
}

func TestScoreAll_Degenerate(t *testing.T) {
	metrics := []models.CustomerMetrics{
		{CustomerUniqueID: "a", RecencyDays: 30, FrequencyOrders: 1, MonetaryTotal: 99},
		{CustomerUniqueID: "b", RecencyDays: 30, FrequencyOrders: 1, MonetaryTotal: 99},
		{CustomerUniqueID: "c", RecencyDays: 30, FrequencyOrders: 1, MonetaryTotal: 99},
	}
	scores, bp, err := ScoreAll(metrics)
	require.NoError(t, err)
	assert.Equal(t, bp.Frequency.P20, bp.Frequency.P80)
	for _, s := range scores {
		assert.Equal(t, 5, s.RecencyScore)
		assert.Equal(t, 5, s.FrequencyScore)
		assert.Equal(t, 5, s.MonetaryScore)
	}
}

func TestScoreAll_Empty(t *testing.T) {
	scores, _, err := ScoreAll(nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestScoreAll_NewCustomerAndBigSpender(t *testing.T) {
	metrics := []models.CustomerMetrics{
		{CustomerUniqueID: "A", RecencyDays: 10, FrequencyOrders: 1, MonetaryTotal: 100},
		{CustomerUniqueID: "B", RecencyDays: 50, FrequencyOrders: 10, MonetaryTotal: 5000},
		{CustomerUniqueID: "C", RecencyDays: 20, FrequencyOrders: 2, MonetaryTotal: 200},
		{CustomerUniqueID: "D", RecencyDays: 30, FrequencyOrders: 3, MonetaryTotal: 300},
		{CustomerUniqueID: "E", RecencyDays: 40, FrequencyOrders: 4, MonetaryTotal: 400},
	}
	scores, bp, err := ScoreAll(metrics)
	require.NoError(t, err)
	assert.InDelta(t, 1320, bp.Monetary.P80, 1e-9)
	assert.InDelta(t, 5.2, bp.Frequency.P80, 1e-9)

	for _, s := range scores {
		for _, v := range []int{s.RecencyScore, s.FrequencyScore, s.MonetaryScore} {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 5)
		}
	}

	a, b := scores[0], scores[1]
	assert.Equal(t, [3]int{5, 1, 1}, [3]int{a.RecencyScore, a.FrequencyScore, a.MonetaryScore})
	assert.Equal(t, [3]int{1, 5, 5}, [3]int{b.RecencyScore, b.FrequencyScore, b.MonetaryScore})
	assert.Equal(t, NewCustomers, Classify(a.RecencyScore, a.FrequencyScore, a.MonetaryScore))
	assert.Equal(t, BigSpenders, Classify(b.RecencyScore, b.FrequencyScore, b.MonetaryScore))
}

func TestComputeBreakpoints_NonFinite(t *testing.T) {
	for _, bad := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		_, err := ComputeBreakpoints([]float64{1, 2, bad})
		require.Error(t, err)
	}
	_, _, err := ScoreAll([]models.CustomerMetrics{{CustomerUniqueID: "x", MonetaryTotal: math.Inf(1)}})
	require.Error(t, err)
}
