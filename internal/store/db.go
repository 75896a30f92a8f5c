// Package store is the durable SQLite layer under the cache engine: one
// database for the message domain and a second, independently versioned
// one for space metadata.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the message-domain database.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode, a busy timeout, and
// incremental auto-vacuum so the retention sweeper can reclaim space.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_auto_vacuum=incremental")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// dbtx is the shared query surface of *sql.DB and *sql.Tx; the row
// helpers below are written against it so the same statements serve
// both autocommit calls and transactional batches.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Tx is one open transaction over the message-domain database.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside a single transaction, committing on nil and
// rolling back on error. A reconciliation batch applies through here so
// a mid-batch failure leaves no partial batch behind.
func (db *DB) InTx(fn func(*Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reclaim returns pages freed by bulk deletes to the filesystem and
// truncates the WAL. Called by the sweeper after cleanup.
func (db *DB) Reclaim() error {
	if _, err := db.Exec(`PRAGMA incremental_vacuum`); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	if _, err := db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// ValidationError reports a record rejected before reaching storage.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record missing required field %q", e.Field)
}

// IsContention reports whether err is a transient SQLite lock error.
// The write queue retries these; everything else propagates.
func IsContention(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
