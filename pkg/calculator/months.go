package calculator

import (
	"fmt"

	"rfm-cohort/pkg/models"
)

// parseMonth("MMYYYY") -> YearMonth
func parseMonth(mmyyyy string) (models.YearMonth, error) {
	if len(mmyyyy) != 6 {
		return models.YearMonth{}, fmt.Errorf("format attendu MMYYYY (ex: 012025)")
	}
	for _, c := range mmyyyy {
		if c < '0' || c > '9' {
			return models.YearMonth{}, fmt.Errorf("format attendu MMYYYY (ex: 012025)")
		}
	}
	month := int(mmyyyy[0]-'0')*10 + int(mmyyyy[1]-'0')
	year := int(mmyyyy[2]-'0')*1000 + int(mmyyyy[3]-'0')*100 + int(mmyyyy[4]-'0')*10 + int(mmyyyy[5]-'0')
	if month < 1 || month > 12 {
		return models.YearMonth{}, fmt.Errorf("mois invalide")
	}
	return models.YearMonth{Year: year, Month: month}, nil
}

func monthsBetweenInclusive(start, end models.YearMonth) []models.YearMonth {
	var out []models.YearMonth
	for cur := start; !end.Before(cur); cur = cur.AddMonths(1) {
		out = append(out, cur)
	}
	return out
}

// cohortRange returns the configured cohort months, or nil when no range is set.
func cohortRange(cfg models.Config) ([]models.YearMonth, error) {
	if cfg.StartMonthInclusive == "" && cfg.EndMonthInclusive == "" {
		return nil, nil
	}
	if cfg.StartMonthInclusive == "" || cfg.EndMonthInclusive == "" {
		return nil, fmt.Errorf("start_month and end_month go together")
	}
	start, err := parseMonth(cfg.StartMonthInclusive)
	if err != nil {
		return nil, fmt.Errorf("start_month: %w", err)
	}
	end, err := parseMonth(cfg.EndMonthInclusive)
	if err != nil {
		return nil, fmt.Errorf("end_month: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end_month < start_month")
	}
	return monthsBetweenInclusive(start, end), nil
}

func formatMonth(m models.YearMonth) string {
	return fmt.Sprintf("%02d/%04d", m.Month, m.Year)
}
