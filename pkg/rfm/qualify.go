// Package rfm computes the Recency/Frequency/Monetary segmentation.
//
// The pipeline is QualifyOrders → ExtractMetrics → ScoreAll → ClassifyAll.
// ScoreAll is a barrier: it needs the complete metric population.
package rfm

import (
	"math"
	"sort"
	"strings"
	"time"

	"rfm-cohort/pkg/models"
)

// QualifyOptions control which orders count as purchases.
type QualifyOptions struct {
	Statuses     []string
	AsOf         time.Time
	RequireItems bool
	OnMalformed  string
}

type qualifier struct {
	opts QualifyOptions
	diag models.Diagnostics
}

// malformed counts a bad row and, under the reject policy, turns it into an error.
func (q *qualifier) malformed(counter *int, table, key, reason string) error {
	*counter++
	if q.opts.OnMalformed == models.OnMalformedReject {
		return &models.RowError{Table: table, Key: key, Reason: reason}
	}
	return nil
}

type itemTotals struct {
	count   int
	revenue float64
}

// QualifyOrders filters and joins the raw records once, for both the RFM and the cohort branch.
// Result is sorted by customer_unique_id, purchase time, order_id.
func QualifyOrders(ds models.Dataset, opts QualifyOptions) ([]models.QualifiedOrder, models.Diagnostics, error) {
	q := &qualifier{opts: opts}
	q.diag.OrdersRead = len(ds.Orders)
	q.diag.ItemsRead = len(ds.Items)
	q.diag.CustomersRead = len(ds.Customers)

	statuses := make(map[string]struct{}, len(opts.Statuses))
	for _, s := range opts.Statuses {
		statuses[normalizeStatus(s)] = struct{}{}
	}

	people := make(map[string]string, len(ds.Customers))
	for _, c := range ds.Customers {
		if c.CustomerID == "" || c.CustomerUniqueID == "" {
			if err := q.malformed(&q.diag.UnknownCustomer, "customers", c.CustomerID, "empty customer key"); err != nil {
				return nil, q.diag, err
			}
			continue
		}
		if prev, dup := people[c.CustomerID]; dup {
			if err := q.malformed(&q.diag.DuplicateCustomers, "customers", c.CustomerID, "duplicate customer_id"); err != nil {
				return nil, q.diag, err
			}
			if prev != c.CustomerUniqueID {
				// conflicting mapping: the account cannot be attributed
				people[c.CustomerID] = ""
			}
			continue
		}
		people[c.CustomerID] = c.CustomerUniqueID
	}

	orders := make(map[string]*models.OrderRecord, len(ds.Orders))
	sequence := make([]string, 0, len(ds.Orders))
	for i := range ds.Orders {
		o := &ds.Orders[i]
		if _, dup := orders[o.OrderID]; dup {
			if err := q.malformed(&q.diag.DuplicateOrders, "orders", o.OrderID, "duplicate order_id"); err != nil {
				return nil, q.diag, err
			}
			continue
		}
		orders[o.OrderID] = o
		sequence = append(sequence, o.OrderID)
	}

	items := make(map[string]itemTotals, len(ds.Orders))
	for _, it := range ds.Items {
		if _, ok := orders[it.OrderID]; !ok {
			if err := q.malformed(&q.diag.OrphanItems, "order_items", it.OrderID, "order_id not found"); err != nil {
				return nil, q.diag, err
			}
			continue
		}
		if !validAmount(it.Price) || !validAmount(it.FreightValue) {
			if err := q.malformed(&q.diag.InvalidItems, "order_items", it.OrderID, "negative or non-finite amount"); err != nil {
				return nil, q.diag, err
			}
			continue
		}
		t := items[it.OrderID]
		t.count++
		t.revenue += it.Price + it.FreightValue
		items[it.OrderID] = t
	}

	out := make([]models.QualifiedOrder, 0, len(sequence))
	for _, id := range sequence {
		o := orders[id]
		if _, ok := statuses[normalizeStatus(o.Status)]; !ok {
			q.diag.NonQualifyingStatus++
			continue
		}
		if o.PurchaseTimestamp == nil || o.PurchaseTimestamp.IsZero() {
			q.diag.MissingTimestamp++
			continue
		}
		purchased := o.PurchaseTimestamp.UTC()
		if purchased.After(opts.AsOf) {
			q.diag.AfterAsOf++
			continue
		}
		person := people[o.CustomerID]
		if person == "" {
			if err := q.malformed(&q.diag.UnknownCustomer, "orders", o.OrderID, "customer_id "+o.CustomerID+" not resolvable"); err != nil {
				return nil, q.diag, err
			}
			continue
		}
		t := items[id]
		if t.count == 0 && opts.RequireItems {
			q.diag.OrdersWithoutItems++
			continue
		}
		out = append(out, models.QualifiedOrder{
			OrderID:          id,
			CustomerUniqueID: person,
			PurchasedAt:      purchased,
			Month:            models.MonthOf(purchased),
			Items:            t.count,
			Revenue:          t.revenue,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CustomerUniqueID != b.CustomerUniqueID {
			return a.CustomerUniqueID < b.CustomerUniqueID
		}
		if !a.PurchasedAt.Equal(b.PurchasedAt) {
			return a.PurchasedAt.Before(b.PurchasedAt)
		}
		return a.OrderID < b.OrderID
	})
	q.diag.QualifiedOrders = len(out)
	return out, q.diag, nil
}

// validAmount accepts finite, non-negative values.
func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
