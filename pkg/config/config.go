package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rfm-cohort/pkg/database"
	"rfm-cohort/pkg/models"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultRetentionWindow = 12
	DefaultMinCohortSize   = 30
)

// DefaultStatuses are the order statuses counted as a purchase.
var DefaultStatuses = []string{"delivered", "shipped"}

// Default returns a Config with every default set except AsOf, which has none.
func Default() models.Config {
	return models.Config{
		QualifyingStatuses:     append([]string(nil), DefaultStatuses...),
		RetentionWindowPeriods: DefaultRetentionWindow,
		MinCohortSize:          DefaultMinCohortSize,
		RequireItems:           true,
		OnMalformed:            models.OnMalformedSkip,
		Tables:                 database.DefaultTables(),
		OutputDir:              "reports",
		LogMode:                "dev",
	}
}

// Load reads a YAML file on top of Default. An empty path returns the defaults.
func Load(path string) (models.Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.AsOfRaw != "" {
		t, err := ParseAsOf(cfg.AsOfRaw)
		if err != nil {
			return cfg, err
		}
		cfg.AsOf = t
	}
	return cfg, nil
}

// ParseAsOf accepts RFC3339, "2006-01-02 15:04:05" or "2006-01-02" (UTC).
func ParseAsOf(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: as_of_timestamp %q not recognised", ErrInvalidConfig, s)
}

// Validate checks the parameters the computation depends on.
func Validate(cfg models.Config) error {
	if cfg.AsOf.IsZero() {
		return fmt.Errorf("%w: as_of_timestamp is required", ErrInvalidConfig)
	}
	if len(cfg.QualifyingStatuses) == 0 {
		return fmt.Errorf("%w: qualifying_statuses is empty", ErrInvalidConfig)
	}
	if cfg.RetentionWindowPeriods < 1 {
		return fmt.Errorf("%w: retention_window_periods must be >= 1, got %d", ErrInvalidConfig, cfg.RetentionWindowPeriods)
	}
	if cfg.MinCohortSize < 1 {
		return fmt.Errorf("%w: min_cohort_size must be >= 1, got %d", ErrInvalidConfig, cfg.MinCohortSize)
	}
	switch cfg.OnMalformed {
	case models.OnMalformedSkip, models.OnMalformedReject:
	default:
		return fmt.Errorf("%w: on_malformed must be %q or %q, got %q",
			ErrInvalidConfig, models.OnMalformedSkip, models.OnMalformedReject, cfg.OnMalformed)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	return nil
}
