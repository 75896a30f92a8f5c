package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/MrX1068/stunxtV2-sub001/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
	// Rebuilt is set when a version mismatch or dirty state forced the
	// destructive rebuild: the cache is not a source of truth, so
	// dropping and recreating the schema is safe. Callers must reset
	// the persisted last-cleanup marker when this is set.
	Rebuilt bool
}

// Migrate brings the message-domain schema up to date, rebuilding from
// scratch when the recorded version cannot be migrated forward.
func (db *DB) Migrate() (*MigrateResult, error) {
	return runMigrations(db.DB, migrations.FS)
}

func runMigrations(db *sql.DB, fsys fs.FS) (*MigrateResult, error) {
	m, err := newMigrator(db, fsys)
	if err != nil {
		return nil, err
	}

	rebuilt := false
	if _, dirty, verr := m.Version(); verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		// Version table unreadable: schema predates migrations or
		// belongs to a different epoch. Rebuild.
		if err := rebuild(m); err != nil {
			return nil, err
		}
		rebuilt = true
	} else if dirty {
		if err := rebuild(m); err != nil {
			return nil, err
		}
		rebuilt = true
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil && !rebuilt {
		// Forward migration failed on an existing schema; fall back to
		// the destructive rebuild.
		if rerr := rebuild(m); rerr != nil {
			return nil, fmt.Errorf("migration up: %v (rebuild also failed: %w)", err, rerr)
		}
		rebuilt = true
		if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("migration up after rebuild: %w", err)
		}
		err = nil
		changed = true
	} else if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed || rebuilt,
		Rebuilt: rebuilt,
	}, nil
}

func newMigrator(db *sql.DB, fsys fs.FS) (*migrate.Migrate, error) {
	source, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	return m, nil
}

func rebuild(m *migrate.Migrate) error {
	if err := m.Drop(); err != nil {
		return fmt.Errorf("migration drop: %w", err)
	}
	return nil
}
