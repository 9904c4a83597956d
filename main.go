package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"rfm-cohort/pkg/calculator"
	"rfm-cohort/pkg/config"
	"rfm-cohort/pkg/database"
	"rfm-cohort/pkg/export"
	"rfm-cohort/pkg/logger"
	"rfm-cohort/pkg/models"
	"rfm-cohort/pkg/source"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred Sync and signal cleanup always execute.
func run() int {
	// .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Fichier YAML de configuration")
	dsn := flag.String("dsn", os.Getenv("RFM_COHORT_DSN"), "DSN mariadb://, mysql:// ou postgres://")
	dataDir := flag.String("data", "", "Dossier des exports CSV Olist (alternative à --dsn)")
	asOf := flag.String("as_of", "", "Date de référence pour la récence (YYYY-MM-DD ou RFC3339)")
	out := flag.String("out", "", "Dossier de sortie")
	statuses := flag.String("statuses", "", "Statuts qualifiants, séparés par des virgules")
	window := flag.Int("window", 0, "Nombre de périodes de rétention")
	minCohort := flag.Int("min_cohort", 0, "Taille minimale de cohorte pour les moyennes")
	startMonth := flag.String("start_month", "", "Première cohorte (MMYYYY)")
	endMonth := flag.String("end_month", "", "Dernière cohorte (MMYYYY)")
	reject := flag.Bool("strict", false, "Rejeter le lot à la première ligne invalide")
	verbose := flag.Bool("v", false, "Mode verbeux")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["dsn"] || (cfg.DSN == "" && cfg.DataDir == "" && !set["data"]) {
		cfg.DSN = *dsn
	}
	if set["data"] {
		cfg.DataDir = *dataDir
	}
	if set["out"] {
		cfg.OutputDir = *out
	}
	if set["statuses"] {
		cfg.QualifyingStatuses = splitList(*statuses)
	}
	if set["window"] {
		cfg.RetentionWindowPeriods = *window
	}
	if set["min_cohort"] {
		cfg.MinCohortSize = *minCohort
	}
	if set["start_month"] {
		cfg.StartMonthInclusive = *startMonth
	}
	if set["end_month"] {
		cfg.EndMonthInclusive = *endMonth
	}
	if set["strict"] && *reject {
		cfg.OnMalformed = models.OnMalformedReject
	}
	if set["v"] {
		cfg.Verbose = *verbose
	}
	if set["as_of"] {
		t, err := config.ParseAsOf(*asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "as_of: %v\n", err)
			return 2
		}
		cfg.AsOf = t
	}

	log, err := logger.New(cfg.LogMode, cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	const usage = "Usage: rfm-cohort (--dsn ... | --data DIR) --as_of YYYY-MM-DD"
	if err := config.Validate(cfg); err != nil {
		log.Error(usage, "error", err)
		return 2
	}
	if (cfg.DSN == "") == (cfg.DataDir == "") {
		log.Error(usage, "error", "exactly one of dsn or data is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ds, err := loadDataset(ctx, cfg, log)
	if err != nil {
		log.Error("load", "error", err)
		return 1
	}

	results, err := calculator.Run(ctx, ds, cfg, log.With("as_of", cfg.AsOf.Format("2006-01-02")))
	if err != nil {
		log.Error("compute", "error", err)
		return 1
	}

	files, err := export.WriteAll(cfg.OutputDir, cfg, results)
	if err != nil {
		log.Error("export", "error", err)
		return 1
	}
	for _, f := range files {
		log.Info("exported", "file", f)
	}

	// Sortie console : segment ; clients ; part ; CA
	for _, s := range results.SegmentSummary {
		fmt.Printf("%-20s ; clients=%d ; pct=%.2f ; monetary=%.2f\n", s.Segment, s.Customers, s.PctCustomers, s.MonetaryTotal)
	}
	for _, s := range results.RetentionSummary {
		avg := "n/a"
		if s.AvgRetentionPct != nil {
			avg = fmt.Sprintf("%.2f", *s.AvgRetentionPct)
		}
		fmt.Printf("month_%d ; retention=%s ; cohorts=%d\n", s.PeriodNumber, avg, s.CohortsIncluded)
	}
	return 0
}

func loadDataset(ctx context.Context, cfg models.Config, log *logger.Logger) (models.Dataset, error) {
	if cfg.DataDir != "" {
		ds, err := source.LoadCSVDir(cfg.DataDir)
		if err != nil {
			return ds, err
		}
		log.Info("csv loaded", "dir", cfg.DataDir, "orders", len(ds.Orders), "items", len(ds.Items), "customers", len(ds.Customers))
		return ds, nil
	}

	db, driver, err := database.Open(cfg.DSN)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return models.Dataset{}, fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("connected", "driver", driver, "dsn", database.Redact(cfg.DSN))

	ds, err := database.LoadDataset(ctx, db, cfg.Tables)
	if err != nil {
		return ds, err
	}
	log.Info("tables loaded", "orders", len(ds.Orders), "items", len(ds.Items), "customers", len(ds.Customers))
	return ds, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
