package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter     metric.Int64Counter
	migrationsCounterOnce sync.Once
)

// Apply runs all pending migrations from migrationsDir against the
// Postgres instance reachable via dsn.
func Apply(ctx context.Context, dsn, migrationsDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}

	m, cleanup, err := newMigrator(ctx, dsn, resolvedDir, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("running database migrations", "path", resolvedDir)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationResult(ctx, "noop", resolvedDir)
			logger.Info("database schema up to date")
			return nil
		}
		recordMigrationResult(ctx, "failed", resolvedDir)
		return fmt.Errorf("apply migrations: %w", err)
	}

	recordMigrationResult(ctx, "applied", resolvedDir)
	logger.Info("database migrations applied")
	return nil
}

// Rollback undoes the most recent steps migrations.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}

	m, cleanup, err := newMigrator(ctx, dsn, resolvedDir, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("rolling back database migrations", "path", resolvedDir, "steps", steps)

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationResult(ctx, "noop", resolvedDir)
			logger.Info("no migrations to roll back")
			return nil
		}
		recordMigrationResult(ctx, "failed", resolvedDir)
		return fmt.Errorf("rollback migrations: %w", err)
	}

	recordMigrationResult(ctx, "rolled_back", resolvedDir)
	logger.Info("database migrations rolled back", "steps", steps)
	return nil
}

// SchemaVersion reports the currently applied migration version. ok is
// false when no migration has been applied yet.
func SchemaVersion(ctx context.Context, dsn, migrationsDir string, logger *slog.Logger) (version uint, dirty, ok bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	resolvedDir, err := resolveDir(migrationsDir)
	if err != nil {
		return 0, false, false, err
	}

	m, cleanup, err := newMigrator(ctx, dsn, resolvedDir, logger)
	if err != nil {
		return 0, false, false, err
	}
	defer cleanup()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, true, nil
}

// newMigrator opens a migration connection and binds it to the file
// source at dir. The returned cleanup closes both.
func newMigrator(ctx context.Context, dsn, dir string, logger *slog.Logger) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initialise pgx driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fileURL(dir), "pgx5", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	cleanup := func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			logger.Warn("migrations source close", "error", sourceErr)
		}
		if dbErr != nil {
			logger.Warn("migrations db close", "error", dbErr)
		}
		if cerr := db.Close(); cerr != nil {
			logger.Warn("migrations connection close", "error", cerr)
		}
	}
	return m, cleanup, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationResult(ctx context.Context, result, path string) {
	migrationsCounterOnce.Do(func() {
		meter := otel.Meter("marketfeed/database")
		counter, err := meter.Int64Counter("marketfeed_db_migrations_total",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("migrations_path", path),
	))
}
