package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// postgres:// driver registration
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator is the part of migrate.Migrate the service uses.
type Migrator interface {
	Up() error
	Down() error
	Close() (error, error)
}

// MigrationEngine opens a migrator for a database URL.
type MigrationEngine func(databaseURL string) (Migrator, error)

// EmbeddedEngine runs the migrations compiled into the binary.
func EmbeddedEngine(databaseURL string) (Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, databaseURL)
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(databaseURL string, engine MigrationEngine) error {
	return run(databaseURL, engine, Migrator.Up)
}

// MigrateDown reverts every migration.
func MigrateDown(databaseURL string, engine MigrationEngine) error {
	return run(databaseURL, engine, Migrator.Down)
}

func run(databaseURL string, engine MigrationEngine, step func(Migrator) error) (err error) {
	if engine == nil {
		engine = EmbeddedEngine
	}
	m, err := engine(databaseURL)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			err = errors.Join(err, fmt.Errorf("migration source error: %w", serr))
		}
		if dberr != nil {
			err = errors.Join(err, fmt.Errorf("migration database error: %w", dberr))
		}
	}()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
