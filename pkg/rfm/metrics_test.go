package rfm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfm-cohort/pkg/models"
)

func TestExtractMetrics_FromDataset(t *testing.T) {
	orders, _, err := QualifyOrders(fixtureDataset(), defaultQualify())
	require.NoError(t, err)

	metrics, err := ExtractMetrics(context.Background(), orders, asOf, 2)
	require.NoError(t, err)
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.Equal(t, "u1", m.CustomerUniqueID)
	// 2018-03-05T15:00 → 2018-10-01T00:00 is 209.375 days
	assert.Equal(t, 209, m.RecencyDays)
	assert.Equal(t, 2, m.FrequencyOrders)
	assert.InDelta(t, 128.0, m.MonetaryTotal, 1e-9)
	assert.InDelta(t, 64.0, m.AvgOrderValue, 1e-9)
	assert.Equal(t, *ts("2018-01-10T10:00:00Z"), m.FirstOrderDate)
	assert.Equal(t, *ts("2018-03-05T15:00:00Z"), m.LastOrderDate)
}

func TestExtractMetrics_ZeroOrderCustomersAbsent(t *testing.T) {
	metrics, err := ExtractMetrics(context.Background(), nil, asOf, 0)
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestExtractMetrics_Parallel(t *testing.T) {
	var orders []models.QualifiedOrder
	for c := 0; c < 1000; c++ {
		for k := 0; k <= c%3; k++ {
			at := time.Date(2018, time.Month(1+k), 1, 0, 0, 0, 0, time.UTC)
			orders = append(orders, models.QualifiedOrder{
				OrderID:          fmt.Sprintf("o-%04d-%d", c, k),
				CustomerUniqueID: fmt.Sprintf("u-%04d", c),
				PurchasedAt:      at,
				Month:            models.MonthOf(at),
				Items:            1,
				Revenue:          10,
			})
		}
	}

	metrics, err := ExtractMetrics(context.Background(), orders, asOf, 4)
	require.NoError(t, err)
	require.Len(t, metrics, 1000)
	for i, m := range metrics {
		assert.Equal(t, fmt.Sprintf("u-%04d", i), m.CustomerUniqueID)
		assert.Equal(t, i%3+1, m.FrequencyOrders)
		assert.InDelta(t, float64(10*(i%3+1)), m.MonetaryTotal, 1e-9)
	}
}

func TestExtractMetrics_Ungrouped(t *testing.T) {
	at := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []models.QualifiedOrder{
		{OrderID: "a", CustomerUniqueID: "u1", PurchasedAt: at},
		{OrderID: "b", CustomerUniqueID: "u2", PurchasedAt: at},
		{OrderID: "c", CustomerUniqueID: "u1", PurchasedAt: at},
	}
	_, err := ExtractMetrics(context.Background(), orders, asOf, 1)
	require.Error(t, err)
}

func TestExtractMetrics_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	at := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := ExtractMetrics(ctx, []models.QualifiedOrder{{OrderID: "a", CustomerUniqueID: "u1", PurchasedAt: at}}, asOf, 1)
	require.ErrorIs(t, err, context.Canceled)
}
