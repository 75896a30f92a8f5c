package store

import (
	"database/sql"
	"time"
)

// UpsertSyncCursor replaces the cursor for a conversation. The sync
// watermark is clamped in SQL: last_sync_ts never regresses even if a
// caller hands in a stale value.
func (db *DB) UpsertSyncCursor(c *SyncCursor) error {
	return upsertSyncCursor(db.DB, c)
}

// UpsertSyncCursor is the transactional form of DB.UpsertSyncCursor.
func (t *Tx) UpsertSyncCursor(c *SyncCursor) error {
	return upsertSyncCursor(t.tx, c)
}

func upsertSyncCursor(e dbtx, c *SyncCursor) error {
	if c.ConversationID == "" {
		return &ValidationError{Field: "conversation_id"}
	}
	now := time.Now().UnixMilli()
	_, err := e.Exec(`
		INSERT INTO sync_cursors (conversation_id, last_sync_ts, last_message_ts, cached_count, has_more_history, sync_in_progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_sync_ts = MAX(sync_cursors.last_sync_ts, excluded.last_sync_ts),
			last_message_ts = MAX(sync_cursors.last_message_ts, excluded.last_message_ts),
			cached_count = excluded.cached_count,
			has_more_history = excluded.has_more_history,
			sync_in_progress = excluded.sync_in_progress,
			updated_at = excluded.updated_at`,
		c.ConversationID, c.LastSyncTS, c.LastMessageTS, c.CachedCount, c.HasMoreHistory, c.SyncInProgress, now)
	return err
}

// GetSyncCursor returns the cursor for a conversation, or nil when the
// conversation has never been synced.
func (db *DB) GetSyncCursor(conversationID string) (*SyncCursor, error) {
	return getSyncCursor(db.DB, conversationID)
}

// GetSyncCursor is the transactional form of DB.GetSyncCursor.
func (t *Tx) GetSyncCursor(conversationID string) (*SyncCursor, error) {
	return getSyncCursor(t.tx, conversationID)
}

func getSyncCursor(e dbtx, conversationID string) (*SyncCursor, error) {
	var c SyncCursor
	err := e.QueryRow(`
		SELECT conversation_id, last_sync_ts, last_message_ts, cached_count, has_more_history, sync_in_progress
		FROM sync_cursors WHERE conversation_id = ?`, conversationID).
		Scan(&c.ConversationID, &c.LastSyncTS, &c.LastMessageTS, &c.CachedCount, &c.HasMoreHistory, &c.SyncInProgress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetSyncInProgress flips the in-progress flag without disturbing the
// rest of the cursor.
func (db *DB) SetSyncInProgress(conversationID string, inProgress bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (conversation_id, sync_in_progress, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			sync_in_progress = excluded.sync_in_progress,
			updated_at = excluded.updated_at`,
		conversationID, inProgress, now)
	return err
}
