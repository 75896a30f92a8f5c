package store

import (
	"database/sql"
	"time"
)

// SetProfile inserts or updates a user profile cache entry.
func (db *DB) SetProfile(p *Profile) error {
	if p.UserID == "" {
		return &ValidationError{Field: "user_id"}
	}
	_, err := db.Exec(`
		INSERT INTO profiles (user_id, display_name, avatar_ref, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		p.UserID, p.DisplayName, p.AvatarRef, p.CachedAt, p.ExpiresAt)
	return err
}

// GetProfile returns the profile for a user, or nil when absent.
// Expired entries are treated as absent.
func (db *DB) GetProfile(userID string) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT user_id, display_name, avatar_ref, cached_at, expires_at
		FROM profiles WHERE user_id = ? AND expires_at > ?`,
		userID, time.Now().UnixMilli()).
		Scan(&p.UserID, &p.DisplayName, &p.AvatarRef, &p.CachedAt, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PurgeExpiredProfiles drops entries past their TTL. Run by the sweeper.
func (db *DB) PurgeExpiredProfiles() (int64, error) {
	res, err := db.Exec(`DELETE FROM profiles WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
