package rfm

import (
	"errors"
	"math"
	"sort"

	"rfm-cohort/pkg/models"
)

var (
	errEmptyPopulation = errors.New("quantile: empty population")
	errNonFinite       = errors.New("quantile: non-finite value")
)

// Percentile returns the p-th percentile (0 <= p <= 1) of sorted using linear
// interpolation between the order statistics at floor and ceil of p*(n-1).
// sorted must be non-empty and ascending.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// ComputeBreakpoints returns P20/P40/P60/P80 of values. values is not modified.
// NaN and ±Inf are rejected.
func ComputeBreakpoints(values []float64) (models.Breakpoints, error) {
	if len(values) == 0 {
		return models.Breakpoints{}, errEmptyPopulation
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Breakpoints{}, errNonFinite
		}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return models.Breakpoints{
		P20: Percentile(sorted, 0.2),
		P40: Percentile(sorted, 0.4),
		P60: Percentile(sorted, 0.6),
		P80: Percentile(sorted, 0.8),
	}, nil
}

// ScoreRecency scores a metric where lower is better.
func ScoreRecency(v float64, b models.Breakpoints) int {
	switch {
	case v <= b.P20:
		return 5
	case v <= b.P40:
		return 4
	case v <= b.P60:
		return 3
	case v <= b.P80:
		return 2
	default:
		return 1
	}
}

// ScoreHigherBetter scores frequency and monetary.
func ScoreHigherBetter(v float64, b models.Breakpoints) int {
	switch {
	case v >= b.P80:
		return 5
	case v >= b.P60:
		return 4
	case v >= b.P40:
		return 3
	case v >= b.P20:
		return 2
	default:
		return 1
	}
}

// ScoreAll computes population-wide breakpoints from the complete metric set, then scores
// every customer against them. It must be given the whole population.
func ScoreAll(metrics []models.CustomerMetrics) ([]models.CustomerScore, models.RFMBreakpoints, error) {
	var bp models.RFMBreakpoints
	if len(metrics) == 0 {
		return nil, bp, nil
	}

	recency := make([]float64, len(metrics))
	frequency := make([]float64, len(metrics))
	monetary := make([]float64, len(metrics))
	for i, m := range metrics {
		recency[i] = float64(m.RecencyDays)
		frequency[i] = float64(m.FrequencyOrders)
		monetary[i] = m.MonetaryTotal
	}

	var err error
	if bp.Recency, err = ComputeBreakpoints(recency); err != nil {
		return nil, bp, err
	}
	if bp.Frequency, err = ComputeBreakpoints(frequency); err != nil {
		return nil, bp, err
	}
	if bp.Monetary, err = ComputeBreakpoints(monetary); err != nil {
		return nil, bp, err
	}

	out := make([]models.CustomerScore, len(metrics))
	for i, m := range metrics {
		out[i] = models.CustomerScore{
			CustomerMetrics: m,
			RecencyScore:    ScoreRecency(recency[i], bp.Recency),
			FrequencyScore:  ScoreHigherBetter(frequency[i], bp.Frequency),
			MonetaryScore:   ScoreHigherBetter(monetary[i], bp.Monetary),
		}
	}
	return out, bp, nil
}
