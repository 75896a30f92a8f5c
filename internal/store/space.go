package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/MrX1068/stunxtV2-sub001/internal/store/spacemigrations"
)

// SpaceDB wraps the SQLite connection for the space-metadata database.
// It is a separate cache domain with its own schema version; rebuilding
// it never touches the message store and vice versa.
type SpaceDB struct {
	*sql.DB
}

// OpenSpaces creates the space-domain SQLite connection.
func OpenSpaces(path string) (*SpaceDB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_auto_vacuum=incremental")
	if err != nil {
		return nil, fmt.Errorf("open spaces db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping spaces db: %w", err)
	}
	return &SpaceDB{db}, nil
}

// Migrate brings the space-domain schema up to date, with the same
// rebuild-on-mismatch policy as the message store.
func (db *SpaceDB) Migrate() (*MigrateResult, error) {
	return runMigrations(db.DB, spacemigrations.FS)
}

// UpsertSpace inserts or updates cached space metadata. Last activity
// only moves forward so replayed updates cannot regress it.
func (db *SpaceDB) UpsertSpace(s *Space) error {
	if s.SpaceID == "" {
		return &ValidationError{Field: "space_id"}
	}
	if s.CachedAt == 0 {
		s.CachedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO spaces (space_id, name, icon_ref, member_count, last_activity_ts, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(space_id) DO UPDATE SET
			name = excluded.name,
			icon_ref = excluded.icon_ref,
			member_count = excluded.member_count,
			last_activity_ts = MAX(spaces.last_activity_ts, excluded.last_activity_ts),
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		s.SpaceID, s.Name, s.IconRef, s.MemberCount, s.LastActivityTS, s.CachedAt, s.ExpiresAt)
	return err
}

// GetSpace returns cached metadata for a space, or nil when absent or
// expired.
func (db *SpaceDB) GetSpace(spaceID string) (*Space, error) {
	var s Space
	err := db.QueryRow(`
		SELECT space_id, name, icon_ref, member_count, last_activity_ts, cached_at, expires_at
		FROM spaces WHERE space_id = ? AND (expires_at = 0 OR expires_at > ?)`,
		spaceID, time.Now().UnixMilli()).
		Scan(&s.SpaceID, &s.Name, &s.IconRef, &s.MemberCount, &s.LastActivityTS, &s.CachedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSpaces returns cached spaces ordered by last activity descending.
func (db *SpaceDB) ListSpaces(limit int) ([]Space, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT space_id, name, icon_ref, member_count, last_activity_ts, cached_at, expires_at
		FROM spaces WHERE expires_at = 0 OR expires_at > ?
		ORDER BY last_activity_ts DESC LIMIT ?`,
		time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var spaces []Space
	for rows.Next() {
		var s Space
		if err := rows.Scan(&s.SpaceID, &s.Name, &s.IconRef, &s.MemberCount, &s.LastActivityTS, &s.CachedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// DeleteSpace removes a space from the cache.
func (db *SpaceDB) DeleteSpace(spaceID string) error {
	_, err := db.Exec(`DELETE FROM spaces WHERE space_id = ?`, spaceID)
	return err
}

// PurgeExpiredSpaces drops entries past their TTL.
func (db *SpaceDB) PurgeExpiredSpaces() (int64, error) {
	res, err := db.Exec(`DELETE FROM spaces WHERE expires_at != 0 AND expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
