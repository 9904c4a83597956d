package rfm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfm-cohort/pkg/models"
	"rfm-cohort/pkg/source"
)

var asOf = time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fixtureDataset() models.Dataset {
	return models.Dataset{
		Customers: []models.CustomerRecord{
			{CustomerID: "c1", CustomerUniqueID: "u1", City: "sao paulo", State: "SP"},
			{CustomerID: "c2", CustomerUniqueID: "u1", City: "sao paulo", State: "SP"},
			{CustomerID: "c3", CustomerUniqueID: "u2", City: "curitiba", State: "PR"},
			{CustomerID: "c4", CustomerUniqueID: "u3", City: "recife", State: "PE"},
		},
		Orders: []models.OrderRecord{
			{OrderID: "o1", CustomerID: "c1", Status: "delivered", PurchaseTimestamp: ts("2018-01-10T10:00:00Z")},
			{OrderID: "o2", CustomerID: "c2", Status: " SHIPPED", PurchaseTimestamp: ts("2018-03-05T15:00:00Z")},
			{OrderID: "o3", CustomerID: "c3", Status: "canceled", PurchaseTimestamp: ts("2018-02-01T00:00:00Z")},
			{OrderID: "o4", CustomerID: "c3", Status: "delivered"},
			{OrderID: "o5", CustomerID: "c4", Status: "delivered", PurchaseTimestamp: ts("2018-02-02T00:00:00Z")},
			{OrderID: "o6", CustomerID: "c9", Status: "delivered", PurchaseTimestamp: ts("2018-02-02T00:00:00Z")},
			{OrderID: "o7", CustomerID: "c3", Status: "delivered", PurchaseTimestamp: ts("2018-12-01T00:00:00Z")},
		},
		Items: []models.OrderItemRecord{
			{OrderID: "o1", ItemID: 1, ProductID: "p1", Price: 10, FreightValue: 2},
			{OrderID: "o1", ItemID: 2, ProductID: "p2", Price: 5, FreightValue: 1},
			{OrderID: "o2", ItemID: 1, ProductID: "p3", Price: 100, FreightValue: 10},
			{OrderID: "o3", ItemID: 1, ProductID: "p1", Price: 50},
			{OrderID: "o4", ItemID: 1, ProductID: "p1", Price: 20},
			{OrderID: "o6", ItemID: 1, ProductID: "p1", Price: 30},
			{OrderID: "o7", ItemID: 1, ProductID: "p1", Price: 5},
			{OrderID: "oX", ItemID: 1, ProductID: "p1", Price: 1},
		},
	}
}

func defaultQualify() QualifyOptions {
	return QualifyOptions{
		Statuses:     []string{"delivered", "shipped"},
		AsOf:         asOf,
		RequireItems: true,
		OnMalformed:  models.OnMalformedSkip,
	}
}

func TestQualifyOrders_SkipAndCount(t *testing.T) {
	orders, diag, err := QualifyOrders(fixtureDataset(), defaultQualify())
	require.NoError(t, err)

	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].OrderID)
	assert.Equal(t, "u1", orders[0].CustomerUniqueID)
	assert.InDelta(t, 18.0, orders[0].Revenue, 1e-9)
	assert.Equal(t, 2, orders[0].Items)
	assert.Equal(t, models.YearMonth{Year: 2018, Month: 1}, orders[0].Month)
	assert.Equal(t, "o2", orders[1].OrderID)
	assert.Equal(t, "u1", orders[1].CustomerUniqueID)
	assert.InDelta(t, 110.0, orders[1].Revenue, 1e-9)

	assert.Equal(t, 7, diag.OrdersRead)
	assert.Equal(t, 8, diag.ItemsRead)
	assert.Equal(t, 1, diag.NonQualifyingStatus)
	assert.Equal(t, 1, diag.MissingTimestamp)
	assert.Equal(t, 1, diag.AfterAsOf)
	assert.Equal(t, 1, diag.UnknownCustomer)
	assert.Equal(t, 1, diag.OrphanItems)
	assert.Equal(t, 1, diag.OrdersWithoutItems)
	assert.Equal(t, 2, diag.QualifiedOrders)
	assert.Equal(t, 4, diag.Skipped())
}

func TestQualifyOrders_ItemsOptional(t *testing.T) {
	opts := defaultQualify()
	opts.RequireItems = false
	orders, diag, err := QualifyOrders(fixtureDataset(), opts)
	require.NoError(t, err)

	require.Len(t, orders, 3)
	assert.Equal(t, 0, diag.OrdersWithoutItems)
	last := orders[2]
	assert.Equal(t, "o5", last.OrderID)
	assert.Equal(t, "u3", last.CustomerUniqueID)
	assert.Zero(t, last.Revenue)
	assert.Zero(t, last.Items)
}

func TestQualifyOrders_Reject(t *testing.T) {
	opts := defaultQualify()
	opts.OnMalformed = models.OnMalformedReject
	_, _, err := QualifyOrders(fixtureDataset(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMalformedInput))

	var rowErr *models.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "order_items", rowErr.Table)
	assert.Equal(t, "oX", rowErr.Key)
}

func TestQualifyOrders_RejectUnknownCustomer(t *testing.T) {
	ds := fixtureDataset()
	ds.Items = ds.Items[:len(ds.Items)-1] // drop the orphan
	opts := defaultQualify()
	opts.OnMalformed = models.OnMalformedReject

	_, _, err := QualifyOrders(ds, opts)
	var rowErr *models.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "orders", rowErr.Table)
	assert.Equal(t, "o6", rowErr.Key)
}

func TestQualifyOrders_Duplicates(t *testing.T) {
	ds := fixtureDataset()
	ds.Orders = append(ds.Orders, models.OrderRecord{OrderID: "o1", CustomerID: "c1", Status: "delivered", PurchaseTimestamp: ts("2018-05-01T00:00:00Z")})
	ds.Customers = append(ds.Customers, models.CustomerRecord{CustomerID: "c3", CustomerUniqueID: "u99"})

	orders, diag, err := QualifyOrders(ds, defaultQualify())
	require.NoError(t, err)
	assert.Equal(t, 1, diag.DuplicateOrders)
	assert.Equal(t, 1, diag.DuplicateCustomers)
	// first occurrence wins
	assert.Equal(t, "2018-01-10T10:00:00Z", orders[0].PurchasedAt.Format(time.RFC3339))
}

func invalidAmountDataset() models.Dataset {
	ds := fixtureDataset()
	ds.Items = ds.Items[:3] // o1, o2 only; drop the orphan and non-qualifying items
	ds.Items = append(ds.Items,
		models.OrderItemRecord{OrderID: "o5", ItemID: 1, Price: -1},
		models.OrderItemRecord{OrderID: "o5", ItemID: 2, Price: 3, FreightValue: math.NaN()},
		models.OrderItemRecord{OrderID: "o5", ItemID: 3, Price: math.Inf(1)},
		models.OrderItemRecord{OrderID: "o5", ItemID: 4, Price: 1, FreightValue: math.Inf(-1)},
	)
	return ds
}

func TestQualifyOrders_InvalidAmountsSkipped(t *testing.T) {
	orders, diag, err := QualifyOrders(invalidAmountDataset(), defaultQualify())
	require.NoError(t, err)

	assert.Equal(t, 4, diag.InvalidItems)
	// o5 has no valid item left
	assert.Equal(t, 1, diag.OrdersWithoutItems)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.False(t, math.IsInf(o.Revenue, 0))
		assert.False(t, math.IsNaN(o.Revenue))
	}
}

func TestQualifyOrders_InvalidAmountsRejected(t *testing.T) {
	opts := defaultQualify()
	opts.OnMalformed = models.OnMalformedReject
	_, diag, err := QualifyOrders(invalidAmountDataset(), opts)

	var rowErr *models.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "order_items", rowErr.Table)
	assert.Equal(t, "o5", rowErr.Key)
	assert.Equal(t, 1, diag.InvalidItems)
}

func TestInfinitePriceFromCSVNeverReachesScoring(t *testing.T) {
	items, err := source.ReadItems(strings.NewReader("order_id,order_item_id,price,freight_value\n" +
		"o1,1,Inf,0\n" +
		"o2,1,+Inf,0\n" +
		"o5,1,10,0\n"))
	require.NoError(t, err)
	ds := fixtureDataset()
	ds.Items = items

	orders, diag, err := QualifyOrders(ds, defaultQualify())
	require.NoError(t, err)
	assert.Equal(t, 2, diag.InvalidItems)
	require.Len(t, orders, 1)

	metrics, err := ExtractMetrics(context.Background(), orders, asOf, 1)
	require.NoError(t, err)
	_, bp, err := ScoreAll(metrics)
	require.NoError(t, err)
	for _, v := range []float64{bp.Monetary.P20, bp.Monetary.P40, bp.Monetary.P60, bp.Monetary.P80} {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
}
