package rfm

import (
	"context"
	"fmt"

	"rfm-cohort/pkg/models"
)

// Segment labels.
const (
	Champions         = "Champions"
	LoyalCustomers    = "Loyal Customers"
	PotentialLoyalist = "Potential Loyalists"
	BigSpenders       = "Big Spenders"
	AtRisk            = "At Risk"
	CannotLoseThem    = "Cannot Lose Them"
	Hibernating       = "Hibernating"
	LostCustomers     = "Lost Customers"
	NewCustomers      = "New Customers"
	Others            = "Others"
)

type rule struct {
	label string
	match func(r, f, m int) bool
}

// rules are evaluated top to bottom, first match wins. Predicates overlap:
// "Cannot Lose Them" (M>=4, R<=2) is always taken by "Big Spenders" first and
// never fires. The order is kept as is; changing it changes existing labels.
var rules = []rule{
	{Champions, func(r, f, m int) bool { return r >= 4 && f >= 4 && m >= 4 }},
	{LoyalCustomers, func(r, f, m int) bool { return f >= 4 && r >= 3 }},
	{PotentialLoyalist, func(r, f, m int) bool { return r >= 4 && f >= 2 && f <= 3 }},
	{BigSpenders, func(r, f, m int) bool { return m >= 4 }},
	{AtRisk, func(r, f, m int) bool { return r <= 2 && (f >= 3 || m >= 3) }},
	{CannotLoseThem, func(r, f, m int) bool { return m >= 4 && r <= 2 }},
	{Hibernating, func(r, f, m int) bool { return r <= 2 && f >= 2 }},
	{LostCustomers, func(r, f, m int) bool { return r <= 2 && f <= 2 }},
	{NewCustomers, func(r, f, m int) bool { return r >= 4 && f <= 2 }},
}

// Labels lists every label in rule priority order, Others last.
func Labels() []string {
	out := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.label)
	}
	return append(out, Others)
}

// Classify maps an (R,F,M) score triple to its segment label.
func Classify(r, f, m int) string {
	for _, rl := range rules {
		if rl.match(r, f, m) {
			return rl.label
		}
	}
	return Others
}

// ClassifyAll labels every score. Scores outside 1..5 are rejected.
func ClassifyAll(ctx context.Context, scores []models.CustomerScore, workers int) ([]models.CustomerSegment, error) {
	out := make([]models.CustomerSegment, len(scores))
	err := forEachChunk(ctx, len(scores), workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			s := scores[i]
			if !validScore(s.RecencyScore) || !validScore(s.FrequencyScore) || !validScore(s.MonetaryScore) {
				return fmt.Errorf("customer %s: score out of range (%d,%d,%d)",
					s.CustomerUniqueID, s.RecencyScore, s.FrequencyScore, s.MonetaryScore)
			}
			out[i] = models.CustomerSegment{
				CustomerScore: s,
				Segment:       Classify(s.RecencyScore, s.FrequencyScore, s.MonetaryScore),
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return out, nil
}

func validScore(s int) bool { return s >= 1 && s <= 5 }

// Summarize counts customers and monetary value per label, in rule priority order.
// Labels with no customer are omitted.
func Summarize(segments []models.CustomerSegment) []models.SegmentSummary {
	byLabel := make(map[string]*models.SegmentSummary)
	for _, s := range segments {
		sum, ok := byLabel[s.Segment]
		if !ok {
			sum = &models.SegmentSummary{Segment: s.Segment}
			byLabel[s.Segment] = sum
		}
		sum.Customers++
		sum.MonetaryTotal += s.MonetaryTotal
	}

	var out []models.SegmentSummary
	for _, label := range Labels() {
		sum, ok := byLabel[label]
		if !ok {
			continue
		}
		sum.PctCustomers = 100 * float64(sum.Customers) / float64(len(segments))
		out = append(out, *sum)
	}
	return out
}
