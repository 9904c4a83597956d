// Package cohort builds the first-purchase-month cohorts and their retention matrix.
package cohort

import (
	"fmt"
	"sort"

	"rfm-cohort/pkg/models"
)

// AssignCohorts returns each customer's first qualifying purchase month, sorted by customer.
func AssignCohorts(orders []models.QualifiedOrder) []models.CohortAssignment {
	first := make(map[string]models.YearMonth)
	for _, o := range orders {
		if cur, ok := first[o.CustomerUniqueID]; !ok || o.Month.Before(cur) {
			first[o.CustomerUniqueID] = o.Month
		}
	}
	out := make([]models.CohortAssignment, 0, len(first))
	for id, m := range first {
		out = append(out, models.CohortAssignment{CustomerUniqueID: id, CohortMonth: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerUniqueID < out[j].CustomerUniqueID })
	return out
}

// PeriodNumber is the number of calendar months from cohort to activity.
func PeriodNumber(cohort, activity models.YearMonth) int {
	return activity.Index() - cohort.Index()
}

type activityKey struct {
	customer string
	month    models.YearMonth
}

// BuildActivity rolls orders up to one ActivityRecord per customer and month,
// with the period number relative to the customer's cohort.
// Output is sorted by cohort, customer, activity month.
func BuildActivity(orders []models.QualifiedOrder, assignments []models.CohortAssignment) ([]models.ActivityRecord, error) {
	cohorts := make(map[string]models.YearMonth, len(assignments))
	for _, a := range assignments {
		cohorts[a.CustomerUniqueID] = a.CohortMonth
	}

	byKey := make(map[activityKey]*models.ActivityRecord)
	for _, o := range orders {
		cm, ok := cohorts[o.CustomerUniqueID]
		if !ok {
			return nil, fmt.Errorf("activity: customer %s has no cohort", o.CustomerUniqueID)
		}
		k := activityKey{o.CustomerUniqueID, o.Month}
		rec, ok := byKey[k]
		if !ok {
			p := PeriodNumber(cm, o.Month)
			if p < 0 {
				return nil, fmt.Errorf("activity: customer %s order %s in %s precedes cohort %s",
					o.CustomerUniqueID, o.OrderID, o.Month, cm)
			}
			rec = &models.ActivityRecord{
				CustomerUniqueID: o.CustomerUniqueID,
				CohortMonth:      cm,
				ActivityMonth:    o.Month,
				PeriodNumber:     p,
			}
			byKey[k] = rec
		}
		rec.OrdersInMonth++
		rec.RevenueInMonth += o.Revenue
	}

	out := make([]models.ActivityRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CohortMonth != b.CohortMonth {
			return a.CohortMonth.Before(b.CohortMonth)
		}
		if a.CustomerUniqueID != b.CustomerUniqueID {
			return a.CustomerUniqueID < b.CustomerUniqueID
		}
		return a.ActivityMonth.Before(b.ActivityMonth)
	})
	return out, nil
}
