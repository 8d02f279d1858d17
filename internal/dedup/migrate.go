package dedup

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database types understood by runMigrations.
const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

// runMigrations applies all pending schema migrations to db.
//
// The migrate instance is not closed: closing it would close db as well.
func runMigrations(db *sql.DB, dbType string) error {
	driver, err := createMigrationDriver(db, dbType)
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// createMigrationDriver creates a migration driver for the specified database type
func createMigrationDriver(db *sql.DB, dbType string) (database.Driver, error) {
	switch dbType {
	case dbTypeSQLite:
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite migration driver: %w", err)
		}
		return driver, nil

	case dbTypePostgres:
		driver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL migration driver: %w", err)
		}
		return driver, nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
