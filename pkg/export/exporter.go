// Package export writes run results as JSON and CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rfm-cohort/pkg/calculator"
	"rfm-cohort/pkg/models"
)

// Manifest is the run summary written next to the tables.
type Manifest struct {
	Config  manifestConfig      `json:"config"`
	Results *calculator.Results `json:"results"`
}

type manifestConfig struct {
	QualifyingStatuses     []string `json:"qualifying_statuses"`
	RetentionWindowPeriods int      `json:"retention_window_periods"`
	MinCohortSize          int      `json:"min_cohort_size"`
	RequireItems           bool     `json:"require_items"`
	OnMalformed            string   `json:"on_malformed"`
	StartMonth             string   `json:"start_month,omitempty"`
	EndMonth               string   `json:"end_month,omitempty"`
}

// WriteAll writes every output of res under dir and returns the file paths.
func WriteAll(dir string, cfg models.Config, res *calculator.Results) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	var written []string
	write := func(name string, fn func(string) error) error {
		path := Filename(dir, name, res.AsOf)
		if err := fn(path); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
		written = append(written, path)
		return nil
	}

	manifest := Manifest{
		Config: manifestConfig{
			QualifyingStatuses:     cfg.QualifyingStatuses,
			RetentionWindowPeriods: cfg.RetentionWindowPeriods,
			MinCohortSize:          cfg.MinCohortSize,
			RequireItems:           cfg.RequireItems,
			OnMalformed:            cfg.OnMalformed,
			StartMonth:             cfg.StartMonthInclusive,
			EndMonth:               cfg.EndMonthInclusive,
		},
		Results: res,
	}

	steps := []struct {
		name string
		fn   func(string) error
	}{
		{"run.json", func(p string) error { return ExportJSON(p, manifest) }},
		{"segments.csv", func(p string) error { return writeCSV(p, segmentRows(res.Segments)) }},
		{"segments.json", func(p string) error { return ExportJSON(p, res.Segments) }},
		{"segment_summary.csv", func(p string) error { return writeCSV(p, segmentSummaryRows(res.SegmentSummary)) }},
		{"segment_summary.json", func(p string) error { return ExportJSON(p, res.SegmentSummary) }},
		{"retention_matrix.csv", func(p string) error { return writeCSV(p, matrixRows(res.RetentionMatrix)) }},
		{"retention_matrix.json", func(p string) error { return ExportJSON(p, res.RetentionMatrix) }},
		{"retention_summary.csv", func(p string) error { return writeCSV(p, summaryRows(res.RetentionSummary)) }},
		{"retention_summary.json", func(p string) error { return ExportJSON(p, res.RetentionSummary) }},
	}
	for _, s := range steps {
		if err := write(s.name, s.fn); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Filename builds "<dir>/<stem>_<as-of yyyymmdd>.<ext>" so reruns for the same as-of overwrite.
func Filename(dir, name string, asOf time.Time) string {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, asOf.UTC().Format("20060102"), ext))
}

func ExportJSON(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return file.Close()
}

func writeCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return file.Close()
}

func segmentRows(segs []models.CustomerSegment) [][]string {
	rows := [][]string{{
		"customer_unique_id", "recency_days", "frequency_orders", "monetary_total",
		"recency_score", "frequency_score", "monetary_score", "segment",
	}}
	for _, s := range segs {
		rows = append(rows, []string{
			s.CustomerUniqueID,
			strconv.Itoa(s.RecencyDays),
			strconv.Itoa(s.FrequencyOrders),
			money(s.MonetaryTotal),
			strconv.Itoa(s.RecencyScore),
			strconv.Itoa(s.FrequencyScore),
			strconv.Itoa(s.MonetaryScore),
			s.Segment,
		})
	}
	return rows
}

func segmentSummaryRows(sum []models.SegmentSummary) [][]string {
	rows := [][]string{{"segment", "customers", "pct_customers", "monetary_total"}}
	for _, s := range sum {
		rows = append(rows, []string{s.Segment, strconv.Itoa(s.Customers), pct(&s.PctCustomers), money(s.MonetaryTotal)})
	}
	return rows
}

func matrixRows(entries []models.RetentionEntry) [][]string {
	rows := [][]string{{"cohort_month", "period_number", "active_customers", "pct_of_cohort", "revenue"}}
	for _, e := range entries {
		rows = append(rows, []string{
			e.CohortMonth.String(),
			strconv.Itoa(e.PeriodNumber),
			strconv.Itoa(e.ActiveCustomers),
			pct(e.PctOfCohort),
			money(e.Revenue),
		})
	}
	return rows
}

func summaryRows(sum []models.RetentionSummary) [][]string {
	rows := [][]string{{"period_number", "avg_retention_pct", "cohorts_included"}}
	for _, s := range sum {
		rows = append(rows, []string{strconv.Itoa(s.PeriodNumber), pct(s.AvgRetentionPct), strconv.Itoa(s.CohortsIncluded)})
	}
	return rows
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// pct renders nil as an empty cell.
func pct(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
