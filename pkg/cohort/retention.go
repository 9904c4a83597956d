package cohort

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"rfm-cohort/pkg/models"
)

// RetentionOptions configure Aggregate.
type RetentionOptions struct {
	Window        int                // number of periods, 0..Window-1
	MinCohortSize int                // cohorts below this base are left out of the averages
	AsOfMonth     models.YearMonth   // periods after this month are not observable yet
	Months        []models.YearMonth // if set, exactly these cohorts are reported, empty ones included
	Workers       int
	OnCohortDone  func() // optional progress hook, called concurrently
}

// Retention is the output of Aggregate.
type Retention struct {
	Matrix  []models.RetentionEntry
	Summary []models.RetentionSummary
}

type cohortRow struct {
	month   models.YearMonth
	entries []models.RetentionEntry
}

// Aggregate builds the cohort × period matrix, one goroutine per cohort, then merges the
// rows into the cross-cohort average. pct_of_cohort is nil when the cohort base is empty
// and also for periods whose month is after AsOfMonth, which are not observable yet.
func Aggregate(ctx context.Context, activity []models.ActivityRecord, opts RetentionOptions) (Retention, error) {
	if opts.Window < 1 {
		return Retention{}, fmt.Errorf("retention: window must be >= 1, got %d", opts.Window)
	}

	groups := make(map[models.YearMonth][]models.ActivityRecord)
	for _, a := range activity {
		if a.PeriodNumber != PeriodNumber(a.CohortMonth, a.ActivityMonth) || a.PeriodNumber < 0 {
			return Retention{}, fmt.Errorf("retention: customer %s period %d inconsistent with %s → %s",
				a.CustomerUniqueID, a.PeriodNumber, a.CohortMonth, a.ActivityMonth)
		}
		groups[a.CohortMonth] = append(groups[a.CohortMonth], a)
	}
	var months []models.YearMonth
	if opts.Months != nil {
		months = append(months, opts.Months...)
	} else {
		for m := range groups {
			months = append(months, m)
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	rows := make([]cohortRow, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, m := range months {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = cohortRow{month: m, entries: buildRow(m, groups[m], opts)}
			if opts.OnCohortDone != nil {
				opts.OnCohortDone()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Retention{}, fmt.Errorf("retention: %w", err)
	}

	var out Retention
	for _, r := range rows {
		out.Matrix = append(out.Matrix, r.entries...)
	}
	out.Summary = summarize(rows, opts)
	return out, nil
}

func buildRow(month models.YearMonth, activity []models.ActivityRecord, opts RetentionOptions) []models.RetentionEntry {
	active := make([]map[string]struct{}, opts.Window)
	revenue := make([]float64, opts.Window)
	for _, a := range activity {
		if a.PeriodNumber >= opts.Window {
			continue
		}
		if active[a.PeriodNumber] == nil {
			active[a.PeriodNumber] = make(map[string]struct{})
		}
		active[a.PeriodNumber][a.CustomerUniqueID] = struct{}{}
		revenue[a.PeriodNumber] += a.RevenueInMonth
	}

	base := len(active[0])
	entries := make([]models.RetentionEntry, opts.Window)
	for k := 0; k < opts.Window; k++ {
		e := models.RetentionEntry{
			CohortMonth:     month,
			PeriodNumber:    k,
			ActiveCustomers: len(active[k]),
			Revenue:         revenue[k],
		}
		if base > 0 && !opts.AsOfMonth.Before(month.AddMonths(k)) {
			pct := 100 * float64(e.ActiveCustomers) / float64(base)
			e.PctOfCohort = &pct
		}
		entries[k] = e
	}
	return entries
}

// summarize averages pct_of_cohort per period, unweighted, over cohorts whose base reaches
// MinCohortSize and whose period is observable.
func summarize(rows []cohortRow, opts RetentionOptions) []models.RetentionSummary {
	out := make([]models.RetentionSummary, opts.Window)
	for k := 0; k < opts.Window; k++ {
		var total float64
		n := 0
		for _, r := range rows {
			if r.entries[0].ActiveCustomers < opts.MinCohortSize {
				continue
			}
			if pct := r.entries[k].PctOfCohort; pct != nil {
				total += *pct
				n++
			}
		}
		s := models.RetentionSummary{PeriodNumber: k, CohortsIncluded: n}
		if n > 0 {
			avg := total / float64(n)
			s.AvgRetentionPct = &avg
		}
		out[k] = s
	}
	return out
}
