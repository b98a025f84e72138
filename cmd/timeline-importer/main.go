package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/audit"
	"github.com/renalreg/radar-timeline-data/internal/config"
	"github.com/renalreg/radar-timeline-data/internal/database"
	"github.com/renalreg/radar-timeline-data/internal/domain"
	"github.com/renalreg/radar-timeline-data/internal/export"
	"github.com/renalreg/radar-timeline-data/internal/repository"
	"github.com/renalreg/radar-timeline-data/internal/service"
	"github.com/renalreg/radar-timeline-data/internal/timeline"
)

func main() {
	auditPath := flag.String("audit-path", "", "directory to store the audit files (overrides configuration)")
	commit := flag.Bool("commit", false, "write consolidated timelines to the database")
	testRun := flag.Bool("test-run", false, "walk the full pipeline without writing, regardless of -commit")
	migrationsPath := flag.String("migrations", "migrations", "directory holding schema migrations")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	if *auditPath != "" {
		cfg.Audit.Dir = *auditPath
	}

	logger := newLogger(cfg.Logging)

	writeEnabled := *commit && !*testRun
	logger.WithFields(logrus.Fields{
		"commit":   *commit,
		"test_run": *testRun,
		"writes":   writeEnabled,
	}).Info("Starting timeline import")

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, writeEnabled, *migrationsPath); err != nil {
		logger.WithError(err).Fatal("Timeline import failed")
	}
	logger.Info("Timeline import finished")
}

func run(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, writeEnabled bool, migrationsPath string) error {
	sessions, err := database.NewSessions(ctx, cfg.Registries, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()

	if err := migrateRadar(cfg.Registries.Radar, migrationsPath, logger); err != nil {
		return err
	}

	// The exporter writes through database/sql; keep a separate handle so
	// batch upserts do not compete with pgx fetch traffic for pool slots.
	exportDB, err := sql.Open("postgres", config.ConnectionString(cfg.Registries.Radar))
	if err != nil {
		return fmt.Errorf("opening export connection: %w", err)
	}
	defer exportDB.Close()

	breaker := repository.NewRegistryBreaker("registries", cfg.Export.BreakerTimeout, logger)
	runner := service.NewRunner(
		repository.NewMappingRepository(sessions, logger),
		repository.NewTreatmentRepository(sessions, breaker, logger),
		repository.NewTransplantRepository(sessions, breaker, logger),
		export.NewExporter(exportDB, export.Options{
			BatchSize:     cfg.Export.BatchSize,
			BatchesPerSec: cfg.Export.BatchesPerSec,
			Commit:        writeEnabled,
		}, logger),
		timeline.NewEngine(logger),
		cfg.Engine,
		logger,
	)

	if err := runWithTrail(ctx, cfg, logger, "treatment", func(trail audit.Trail) error {
		_, err := runner.TreatmentRun(ctx, trail)
		return err
	}); err != nil {
		return err
	}

	return runWithTrail(ctx, cfg, logger, "transplant", func(trail audit.Trail) error {
		_, err := runner.TransplantRun(ctx, trail)
		return err
	})
}

// runWithTrail opens an audit trail for one run kind, executes the run and
// closes the trail with the outcome.
func runWithTrail(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, kind string, fn func(audit.Trail) error) error {
	var trail audit.Trail = audit.Nop{}
	if cfg.Audit.Enabled {
		sqliteTrail, err := audit.NewSQLiteTrail(cfg.Audit.Dir, kind, logger)
		if err != nil {
			return err
		}
		trail = sqliteTrail
	}

	runErr := fn(trail)
	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if err := trail.Finish(status); err != nil {
		logger.WithError(err).Warn("Failed to close audit trail")
	}
	return runErr
}

// migrateRadar applies pending schema migrations to the radar database.
func migrateRadar(db domain.DatabaseConfig, migrationsPath string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL(db), migrationsPath, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up()
}

func databaseURL(db domain.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(db.Username), url.QueryEscape(db.Password),
		db.Host, db.Port, db.Database, db.SSLMode)
}

// newLogger builds the application logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}
