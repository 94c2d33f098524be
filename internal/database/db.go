// Package database provides database setup, models, and data access layer (Store).
package database

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/migrations"

	_ "github.com/jackc/pgx/v5/stdlib" //revive:disable:blank-imports
	_ "modernc.org/sqlite"             //revive:disable:blank-imports
)

// Configured driver names and the database/sql drivers behind them.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqlDriverSQLite   = "sqlite"
	sqlDriverPostgres = "pgx"
)

// NewDB connects to the configured database, applies migrations, and returns
// the connection pool.
func NewDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	migrateFn := func() error { return ApplyMigrations(db) }
	if cfg.Driver == DriverPostgres {
		migrateFn = func() error { return applyMigrationsIsolated(cfg) }
	}

	if err := migrateFn(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database connected and migrations applied successfully", "driver", cfg.Driver)
	return db, nil
}

// Open connects to the configured database without touching its schema.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		db, err := sqlx.Connect(sqlDriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		return db, nil

	case DriverSQLite, "":
		db, err := sqlx.Connect(sqlDriverSQLite, sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		// SQLite doesn't support concurrent writes, so max open conns = 1
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(5 * time.Minute)
		slog.Debug("Opened sqlite database", "path", ExtractDBNameFromPath(cfg.DSN))
		return db, nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// CloseDB closes the database connection pool.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Error closing database connection", "error", err)
	} else {
		slog.Info("Database connection closed successfully.")
	}
}

// NewMigrator builds a migrate instance over the embedded migrations of the
// connection's dialect. Closing the migrator closes db.
func NewMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("database connection is nil, cannot build migrator")
	}

	var (
		dbDriver   migratedb.Driver
		driverName string
		dir        string
		err        error
	)
	switch db.DriverName() {
	case sqlDriverPostgres:
		dir, driverName = migrations.Dir(DriverPostgres), "pgx5"
		dbDriver, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	default:
		dir, driverName = migrations.Dir(DriverSQLite), "sqlite"
		dbDriver, err = migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration driver: %w", driverName, err)
	}

	sourceDriver, err := iofs.New(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create embed source driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return migrator, nil
}

// ApplyMigrations runs all pending up migrations on db. The migrator is left
// open so the pool stays usable.
func ApplyMigrations(db *sqlx.DB) error {
	migrator, err := NewMigrator(db)
	if err != nil {
		return err
	}
	return up(migrator, db.DriverName())
}

// applyMigrationsIsolated migrates through a dedicated pool. The pgx
// migration driver pins a connection until the migrator is closed.
func applyMigrationsIsolated(cfg config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	migrator, err := NewMigrator(db)
	if err != nil {
		CloseDB(db)
		return err
	}
	defer func() {
		if srcErr, dbErr := migrator.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("Error closing migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()
	return up(migrator, db.DriverName())
}

func up(migrator *migrate.Migrate, driver string) error {
	slog.Info("Applying database migrations...", "driver", driver)

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No database migrations to apply.")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied successfully.")
	return nil
}

// ExtractDBNameFromPath extracts the database file path from a possibly URL-formatted path.
// This handles both simple file paths and paths with URL-style encoding.
func ExtractDBNameFromPath(path string) string {
	path = strings.TrimPrefix(path, "file:")

	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}

	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}

	return path
}

// sqliteDSN enables foreign keys, a busy timeout and a sortable time format
// on every pooled connection.
func sqliteDSN(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}
