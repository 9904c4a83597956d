// Package source reads the raw records from a directory of CSV exports.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rfm-cohort/pkg/models"
)

// Olist file names.
const (
	OrdersFile    = "olist_orders_dataset.csv"
	ItemsFile     = "olist_order_items_dataset.csv"
	CustomersFile = "olist_customers_dataset.csv"
)

const timestampLayout = "2006-01-02 15:04:05"

// LoadCSVDir reads the three Olist files from dir.
func LoadCSVDir(dir string) (models.Dataset, error) {
	var ds models.Dataset
	var err error
	if ds.Customers, err = readFile(filepath.Join(dir, CustomersFile), ReadCustomers); err != nil {
		return ds, err
	}
	if ds.Orders, err = readFile(filepath.Join(dir, OrdersFile), ReadOrders); err != nil {
		return ds, err
	}
	if ds.Items, err = readFile(filepath.Join(dir, ItemsFile), ReadItems); err != nil {
		return ds, err
	}
	return ds, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// table is a header-indexed CSV reader.
type table struct {
	r    *csv.Reader
	cols map[string]int
	line int
	rec  []string
}

func newTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &table{r: cr, cols: make(map[string]int, len(header)), line: 1}
	for i, h := range header {
		t.cols[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	for _, c := range required {
		if _, ok := t.cols[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	return t, nil
}

func (t *table) next() (bool, error) {
	rec, err := t.r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.line++
	t.rec = rec
	return true, nil
}

func (t *table) get(col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(t.rec) {
		return ""
	}
	return strings.TrimSpace(t.rec[i])
}

func (t *table) rowErr(key, reason string) error {
	return &models.RowError{Table: "line " + strconv.Itoa(t.line), Key: key, Reason: reason}
}

func (t *table) timestamp(col, key string) (*time.Time, error) {
	v := t.get(col)
	if v == "" {
		return nil, nil
	}
	ts, err := time.ParseInLocation(timestampLayout, v, time.UTC)
	if err != nil {
		return nil, t.rowErr(key, fmt.Sprintf("%s: %v", col, err))
	}
	return &ts, nil
}

func (t *table) amount(col, key string) (float64, error) {
	v := t.get(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, t.rowErr(key, fmt.Sprintf("%s %q: not a number", col, v))
	}
	return f, nil
}

func ReadOrders(r io.Reader) ([]models.OrderRecord, error) {
	t, err := newTable(r, "order_id", "customer_id", "order_status", "order_purchase_timestamp")
	if err != nil {
		return nil, err
	}
	var out []models.OrderRecord
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		o := models.OrderRecord{
			OrderID:    t.get("order_id"),
			CustomerID: t.get("customer_id"),
			Status:     t.get("order_status"),
		}
		if o.PurchaseTimestamp, err = t.timestamp("order_purchase_timestamp", o.OrderID); err != nil {
			return nil, err
		}
		if o.DeliveredDate, err = t.timestamp("order_delivered_customer_date", o.OrderID); err != nil {
			return nil, err
		}
		if o.EstimatedDate, err = t.timestamp("order_estimated_delivery_date", o.OrderID); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
}

func ReadItems(r io.Reader) ([]models.OrderItemRecord, error) {
	t, err := newTable(r, "order_id", "order_item_id", "price", "freight_value")
	if err != nil {
		return nil, err
	}
	var out []models.OrderItemRecord
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		it := models.OrderItemRecord{
			OrderID:   t.get("order_id"),
			ProductID: t.get("product_id"),
		}
		if it.ItemID, err = strconv.Atoi(t.get("order_item_id")); err != nil {
			return nil, t.rowErr(it.OrderID, "order_item_id not an integer")
		}
		if it.Price, err = t.amount("price", it.OrderID); err != nil {
			return nil, err
		}
		if it.FreightValue, err = t.amount("freight_value", it.OrderID); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
}

func ReadCustomers(r io.Reader) ([]models.CustomerRecord, error) {
	t, err := newTable(r, "customer_id", "customer_unique_id")
	if err != nil {
		return nil, err
	}
	var out []models.CustomerRecord
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, models.CustomerRecord{
			CustomerID:       t.get("customer_id"),
			CustomerUniqueID: t.get("customer_unique_id"),
			City:             t.get("customer_city"),
			State:            t.get("customer_state"),
		})
	}
}
