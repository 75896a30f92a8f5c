package store

import (
	"database/sql"
	"strconv"
	"time"
)

const lastCleanupKey = "last_cleanup"

// SetState stores a small key/value pair in the cache_state table.
func (db *DB) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO cache_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetState returns the value for key, or "" when unset.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM cache_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetLastCleanup persists the time of the last retention sweep. The zero
// time clears the marker (used after a schema rebuild).
func (db *DB) SetLastCleanup(t time.Time) error {
	if t.IsZero() {
		return db.SetState(lastCleanupKey, "")
	}
	return db.SetState(lastCleanupKey, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastCleanup returns the time of the last retention sweep, or the zero
// time when none is recorded.
func (db *DB) LastCleanup() (time.Time, error) {
	v, err := db.GetState(lastCleanupKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
