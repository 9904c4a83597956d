package models

import (
	"errors"
	"fmt"
	"time"
)

/*
LOAD → raw records as read from the database or the CSV exports.
*/

// OrderRecord is one order account row. PurchaseTimestamp is nil when the source value is NULL.
type OrderRecord struct {
	OrderID           string
	CustomerID        string
	Status            string
	PurchaseTimestamp *time.Time
	DeliveredDate     *time.Time
	EstimatedDate     *time.Time
}

// OrderItemRecord is one line of an order.
type OrderItemRecord struct {
	OrderID      string
	ItemID       int
	ProductID    string
	Price        float64
	FreightValue float64
}

// CustomerRecord maps a per-order customer_id to the real person (CustomerUniqueID).
type CustomerRecord struct {
	CustomerID       string
	CustomerUniqueID string
	City             string
	State            string
}

// Tables names the three source tables of a database source.
type Tables struct {
	Orders    string `yaml:"orders"`
	Items     string `yaml:"order_items"`
	Customers string `yaml:"customers"`
}

// Dataset groups the three record sets consumed by a run.
type Dataset struct {
	Orders    []OrderRecord
	Items     []OrderItemRecord
	Customers []CustomerRecord
}

// QualifiedOrder is an order that passed status, timestamp, join and items filters.
// Both the RFM branch and the cohort branch are computed from these.
type QualifiedOrder struct {
	OrderID          string
	CustomerUniqueID string
	PurchasedAt      time.Time
	Month            YearMonth
	Items            int
	Revenue          float64 // sum(price + freight_value)
}

/*
MONTHS → integer calendar months, no time zone involved.
*/

// YearMonth is a calendar month. Month is 1..12.
type YearMonth struct {
	Year  int
	Month int
}

// MonthOf returns the UTC calendar month of t.
func MonthOf(t time.Time) YearMonth {
	u := t.UTC()
	return YearMonth{Year: u.Year(), Month: int(u.Month())}
}

// Index is the absolute month number, year*12 + month.
func (m YearMonth) Index() int { return m.Year*12 + m.Month }

// AddMonths shifts m by n months (n may be negative).
func (m YearMonth) AddMonths(n int) YearMonth {
	idx := m.Year*12 + (m.Month - 1) + n
	y := idx / 12
	if idx < 0 && idx%12 != 0 {
		y--
	}
	return YearMonth{Year: y, Month: idx - y*12 + 1}
}

// Before reports whether m is strictly earlier than o.
func (m YearMonth) Before(o YearMonth) bool { return m.Index() < o.Index() }

func (m YearMonth) String() string { return fmt.Sprintf("%04d-%02d", m.Year, m.Month) }

func (m YearMonth) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *YearMonth) UnmarshalText(b []byte) error {
	t, err := time.Parse("2006-01", string(b))
	if err != nil {
		return fmt.Errorf("month %q: format attendu YYYY-MM", string(b))
	}
	m.Year, m.Month = t.Year(), int(t.Month())
	return nil
}

/*
COMPUTE → derived entities, rebuilt on every run.
*/

// CustomerMetrics holds the raw RFM values of one customer_unique_id.
type CustomerMetrics struct {
	CustomerUniqueID string    `json:"customer_unique_id"`
	RecencyDays      int       `json:"recency_days"`
	FrequencyOrders  int       `json:"frequency_orders"`
	MonetaryTotal    float64   `json:"monetary_total"`
	AvgOrderValue    float64   `json:"avg_order_value"`
	FirstOrderDate   time.Time `json:"first_order_date"`
	LastOrderDate    time.Time `json:"last_order_date"`
}

// CustomerScore adds the 1..5 quantile scores.
type CustomerScore struct {
	CustomerMetrics
	RecencyScore   int `json:"recency_score"`
	FrequencyScore int `json:"frequency_score"`
	MonetaryScore  int `json:"monetary_score"`
}

// CustomerSegment is the final segmentation row.
type CustomerSegment struct {
	CustomerScore
	Segment string `json:"segment"`
}

// Breakpoints are the P20/P40/P60/P80 thresholds of a metric.
type Breakpoints struct {
	P20 float64 `json:"p20"`
	P40 float64 `json:"p40"`
	P60 float64 `json:"p60"`
	P80 float64 `json:"p80"`
}

// RFMBreakpoints groups the thresholds actually used for scoring.
type RFMBreakpoints struct {
	Recency   Breakpoints `json:"recency"`
	Frequency Breakpoints `json:"frequency"`
	Monetary  Breakpoints `json:"monetary"`
}

// SegmentSummary is the per-label roll-up of a segmentation.
type SegmentSummary struct {
	Segment       string  `json:"segment"`
	Customers     int     `json:"customers"`
	PctCustomers  float64 `json:"pct_customers"`
	MonetaryTotal float64 `json:"monetary_total"`
}

// CohortAssignment is the first qualifying purchase month of a customer.
type CohortAssignment struct {
	CustomerUniqueID string
	CohortMonth      YearMonth
}

// ActivityRecord is the activity of one customer in one calendar month.
type ActivityRecord struct {
	CustomerUniqueID string
	CohortMonth      YearMonth
	ActivityMonth    YearMonth
	OrdersInMonth    int
	RevenueInMonth   float64
	PeriodNumber     int
}

// RetentionEntry is one cell of the cohort × period matrix.
// PctOfCohort is nil when the cohort base is empty or the period lies after the as-of month.
type RetentionEntry struct {
	CohortMonth     YearMonth `json:"cohort_month"`
	PeriodNumber    int       `json:"period_number"`
	ActiveCustomers int       `json:"active_customers"`
	PctOfCohort     *float64  `json:"pct_of_cohort"`
	Revenue         float64   `json:"revenue"`
}

// RetentionSummary is the unweighted average retention at one period across eligible cohorts.
type RetentionSummary struct {
	PeriodNumber    int      `json:"period_number"`
	AvgRetentionPct *float64 `json:"avg_retention_pct"`
	CohortsIncluded int      `json:"cohorts_included"`
}

/*
DIAGNOSTICS → every dropped row is counted, never lost silently.
*/

// Diagnostics counts rows excluded by the qualification pass.
type Diagnostics struct {
	OrdersRead          int `json:"orders_read"`
	ItemsRead           int `json:"items_read"`
	CustomersRead       int `json:"customers_read"`
	NonQualifyingStatus int `json:"non_qualifying_status"`
	MissingTimestamp    int `json:"missing_timestamp"`
	AfterAsOf           int `json:"after_as_of"`
	UnknownCustomer     int `json:"unknown_customer"`
	OrphanItems         int `json:"orphan_items"`
	InvalidItems        int `json:"invalid_items"`
	OrdersWithoutItems  int `json:"orders_without_items"`
	DuplicateOrders     int `json:"duplicate_orders"`
	DuplicateCustomers  int `json:"duplicate_customers"`
	QualifiedOrders     int `json:"qualified_orders"`
}

// Skipped is the number of malformed rows dropped (status filtering excluded).
func (d Diagnostics) Skipped() int {
	return d.MissingTimestamp + d.UnknownCustomer + d.OrphanItems + d.InvalidItems + d.OrdersWithoutItems +
		d.DuplicateOrders + d.DuplicateCustomers
}

// ErrMalformedInput is returned (wrapped in a RowError) when a batch is rejected.
var ErrMalformedInput = errors.New("malformed input")

// RowError identifies the row that made a batch fail.
type RowError struct {
	Table  string
	Key    string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %s row %q: %s", ErrMalformedInput, e.Table, e.Key, e.Reason)
}

func (e *RowError) Unwrap() error { return ErrMalformedInput }

/*
CONFIG → global parameters of a run
*/

// Malformed-row policies.
const (
	OnMalformedSkip   = "skip"
	OnMalformedReject = "reject"
)

// Config contains the parameters of one batch run.
type Config struct {
	QualifyingStatuses     []string  `yaml:"qualifying_statuses"`
	AsOf                   time.Time `yaml:"-"`
	AsOfRaw                string    `yaml:"as_of_timestamp"`
	RetentionWindowPeriods int       `yaml:"retention_window_periods"`
	MinCohortSize          int       `yaml:"min_cohort_size"`
	RequireItems           bool      `yaml:"require_items"`
	OnMalformed            string    `yaml:"on_malformed"`
	Workers                int       `yaml:"workers"`
	StartMonthInclusive    string    `yaml:"start_month"` // "MMYYYY", optional cohort range
	EndMonthInclusive      string    `yaml:"end_month"`   // "MMYYYY"

	DSN       string `yaml:"dsn"`
	Tables    Tables `yaml:"tables"`
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
	LogMode   string `yaml:"log_mode"`
	Verbose   bool   `yaml:"verbose"`
}
