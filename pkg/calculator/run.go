package calculator

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"rfm-cohort/pkg/cohort"
	"rfm-cohort/pkg/logger"
	"rfm-cohort/pkg/models"
	"rfm-cohort/pkg/rfm"
)

// Results is everything one run produces.
type Results struct {
	AsOf             time.Time                 `json:"as_of"`
	Diagnostics      models.Diagnostics        `json:"diagnostics"`
	Breakpoints      models.RFMBreakpoints     `json:"breakpoints"`
	Segments         []models.CustomerSegment  `json:"-"`
	SegmentSummary   []models.SegmentSummary   `json:"segment_summary"`
	Cohorts          int                       `json:"cohorts"`
	RetentionMatrix  []models.RetentionEntry   `json:"-"`
	RetentionSummary []models.RetentionSummary `json:"retention_summary"`
}

// Run computes the RFM segmentation and the cohort retention from one dataset.
// Both branches start from the same qualified orders and run concurrently.
func Run(ctx context.Context, ds models.Dataset, cfg models.Config, log *logger.Logger) (*Results, error) {
	months, err := cohortRange(cfg)
	if err != nil {
		return nil, err
	}

	orders, diag, err := rfm.QualifyOrders(ds, rfm.QualifyOptions{
		Statuses:     cfg.QualifyingStatuses,
		AsOf:         cfg.AsOf,
		RequireItems: cfg.RequireItems,
		OnMalformed:  cfg.OnMalformed,
	})
	if err != nil {
		return nil, fmt.Errorf("qualify: %w", err)
	}
	log.Info("orders qualified",
		"read", diag.OrdersRead,
		"qualified", diag.QualifiedOrders,
		"non_qualifying_status", diag.NonQualifyingStatus,
		"after_as_of", diag.AfterAsOf,
	)
	if n := diag.Skipped(); n > 0 {
		log.Warn("rows skipped",
			"total", n,
			"missing_timestamp", diag.MissingTimestamp,
			"unknown_customer", diag.UnknownCustomer,
			"orphan_items", diag.OrphanItems,
			"invalid_items", diag.InvalidItems,
			"orders_without_items", diag.OrdersWithoutItems,
			"duplicate_orders", diag.DuplicateOrders,
			"duplicate_customers", diag.DuplicateCustomers,
		)
	}

	res := &Results{AsOf: cfg.AsOf, Diagnostics: diag}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runSegmentation(gctx, orders, cfg, log, res) })
	g.Go(func() error { return runRetention(gctx, orders, cfg, months, log, res) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func runSegmentation(ctx context.Context, orders []models.QualifiedOrder, cfg models.Config, log *logger.Logger, res *Results) error {
	metrics, err := rfm.ExtractMetrics(ctx, orders, cfg.AsOf, cfg.Workers)
	if err != nil {
		return err
	}
	// barrier: breakpoints need the whole population
	scores, bp, err := rfm.ScoreAll(metrics)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	segments, err := rfm.ClassifyAll(ctx, scores, cfg.Workers)
	if err != nil {
		return err
	}

	res.Breakpoints = bp
	res.Segments = segments
	res.SegmentSummary = rfm.Summarize(segments)
	log.Info("segmentation done", "customers", len(segments))
	log.Debug("breakpoints",
		"recency", bp.Recency, "frequency", bp.Frequency, "monetary", bp.Monetary)
	for _, s := range res.SegmentSummary {
		log.Debug("segment", "label", s.Segment, "customers", s.Customers, "pct", s.PctCustomers)
	}
	return nil
}

func runRetention(ctx context.Context, orders []models.QualifiedOrder, cfg models.Config, months []models.YearMonth, log *logger.Logger, res *Results) error {
	assignments := cohort.AssignCohorts(orders)
	activity, err := cohort.BuildActivity(orders, assignments)
	if err != nil {
		return err
	}

	cohorts := len(months)
	if months == nil {
		seen := make(map[models.YearMonth]struct{})
		for _, a := range assignments {
			seen[a.CohortMonth] = struct{}{}
		}
		cohorts = len(seen)
	}

	opts := cohort.RetentionOptions{
		Window:        cfg.RetentionWindowPeriods,
		MinCohortSize: cfg.MinCohortSize,
		AsOfMonth:     models.MonthOf(cfg.AsOf),
		Months:        months,
		Workers:       cfg.Workers,
	}
	if cfg.Verbose {
		bar := progressbar.Default(int64(cohorts), "cohorts")
		opts.OnCohortDone = func() { _ = bar.Add(1) }
	}

	ret, err := cohort.Aggregate(ctx, activity, opts)
	if err != nil {
		return err
	}
	res.Cohorts = cohorts
	res.RetentionMatrix = ret.Matrix
	res.RetentionSummary = ret.Summary

	for i := 0; i < len(ret.Matrix); i += opts.Window {
		e := ret.Matrix[i]
		log.Debug("cohort", "month", formatMonth(e.CohortMonth), "customers", e.ActiveCustomers)
	}
	log.Info("retention done", "cohorts", cohorts, "window", opts.Window)
	return nil
}
