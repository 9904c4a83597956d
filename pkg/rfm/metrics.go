package rfm

import (
	"context"
	"fmt"
	"time"

	"rfm-cohort/pkg/models"
)

// ExtractMetrics reduces qualified orders to one CustomerMetrics per customer_unique_id.
// orders must be grouped by customer (QualifyOrders output is). Recency is the whole number
// of days between asOf and the last purchase.
func ExtractMetrics(ctx context.Context, orders []models.QualifiedOrder, asOf time.Time, workers int) ([]models.CustomerMetrics, error) {
	groups, err := groupByCustomer(orders)
	if err != nil {
		return nil, err
	}
	out := make([]models.CustomerMetrics, len(groups))

	err = forEachChunk(ctx, len(groups), workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			m, err := reduceCustomer(orders[groups[i].start:groups[i].end], asOf)
			if err != nil {
				return err
			}
			out[i] = m
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract metrics: %w", err)
	}
	return out, nil
}

type span struct{ start, end int }

// groupByCustomer returns the contiguous runs of each customer in orders.
func groupByCustomer(orders []models.QualifiedOrder) ([]span, error) {
	var spans []span
	seen := make(map[string]struct{})
	for i := 0; i < len(orders); {
		j := i + 1
		for j < len(orders) && orders[j].CustomerUniqueID == orders[i].CustomerUniqueID {
			j++
		}
		if _, dup := seen[orders[i].CustomerUniqueID]; dup {
			return nil, fmt.Errorf("extract metrics: orders not grouped by customer_unique_id (%s)", orders[i].CustomerUniqueID)
		}
		seen[orders[i].CustomerUniqueID] = struct{}{}
		spans = append(spans, span{i, j})
		i = j
	}
	return spans, nil
}

func reduceCustomer(orders []models.QualifiedOrder, asOf time.Time) (models.CustomerMetrics, error) {
	m := models.CustomerMetrics{CustomerUniqueID: orders[0].CustomerUniqueID}
	ids := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		ids[o.OrderID] = struct{}{}
		m.MonetaryTotal += o.Revenue
		if m.FirstOrderDate.IsZero() || o.PurchasedAt.Before(m.FirstOrderDate) {
			m.FirstOrderDate = o.PurchasedAt
		}
		if o.PurchasedAt.After(m.LastOrderDate) {
			m.LastOrderDate = o.PurchasedAt
		}
	}
	gap := asOf.Sub(m.LastOrderDate)
	if gap < 0 {
		return m, fmt.Errorf("customer %s: last order %s after as-of %s",
			m.CustomerUniqueID, m.LastOrderDate.Format(time.RFC3339), asOf.Format(time.RFC3339))
	}
	m.RecencyDays = int(gap / (24 * time.Hour))
	m.FrequencyOrders = len(ids)
	m.AvgOrderValue = m.MonetaryTotal / float64(m.FrequencyOrders)
	return m, nil
}
