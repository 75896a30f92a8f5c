package store

import (
	"database/sql"
	"fmt"
	"time"
)

// messageCols is the single authoritative column list for message rows.
// scanMessage and the write statements below are built from the same
// ordering, so adding a field means touching this file once, in one place.
const messageCols = `conversation_id, identity_key, optimistic_id, sender_id, sender_name,
	content, kind, status, sync_status, server_ts, client_ts, local_ts,
	deleted_at, pinned, editing`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID, &m.IdentityKey, &m.OptimisticID, &m.SenderID, &m.SenderName,
		&m.Content, &m.Kind, &m.Status, &m.SyncStatus, &m.ServerTS, &m.ClientTS, &m.LocalTS,
		&m.DeletedAt, &m.Pinned, &m.Editing,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Message) writeArgs() []any {
	return []any{
		m.ConversationID, m.IdentityKey, m.OptimisticID, m.SenderID, m.SenderName,
		m.Content, m.Kind, m.Status, m.SyncStatus, m.ServerTS, m.ClientTS, m.LocalTS,
		m.DeletedAt, m.Pinned, m.Editing,
	}
}

func (m *Message) validate() error {
	switch {
	case m.ConversationID == "":
		return &ValidationError{Field: "conversation_id"}
	case m.IdentityKey == "":
		return &ValidationError{Field: "identity_key"}
	case m.SenderID == "":
		return &ValidationError{Field: "sender_id"}
	}
	return nil
}

// UpsertMessage inserts or replaces a message by (conversation, identity
// key). local_ts is preserved on conflict: it records first insertion and
// drives retention.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db.DB, m)
}

// UpsertMessage is the transactional form of DB.UpsertMessage.
func (t *Tx) UpsertMessage(m *Message) error {
	return upsertMessage(t.tx, m)
}

func upsertMessage(e dbtx, m *Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	if m.LocalTS == 0 {
		m.LocalTS = time.Now().UnixMilli()
	}
	_, err := e.Exec(`
		INSERT INTO messages (`+messageCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, identity_key) DO UPDATE SET
			optimistic_id = excluded.optimistic_id,
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			content = excluded.content,
			kind = excluded.kind,
			status = excluded.status,
			sync_status = excluded.sync_status,
			server_ts = excluded.server_ts,
			client_ts = excluded.client_ts,
			deleted_at = excluded.deleted_at,
			pinned = excluded.pinned,
			editing = excluded.editing`,
		m.writeArgs()...)
	return err
}

// UpdateMessageByID rewrites every mutable column of an existing row,
// identity key included. The reconciler uses it to rekey a confirmed
// optimistic message in place: same rowid, new identity.
func (db *DB) UpdateMessageByID(m *Message) error {
	return updateMessageByID(db.DB, m)
}

// UpdateMessageByID is the transactional form of DB.UpdateMessageByID.
func (t *Tx) UpdateMessageByID(m *Message) error {
	return updateMessageByID(t.tx, m)
}

func updateMessageByID(e dbtx, m *Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	res, err := e.Exec(`
		UPDATE messages SET
			conversation_id = ?, identity_key = ?, optimistic_id = ?, sender_id = ?, sender_name = ?,
			content = ?, kind = ?, status = ?, sync_status = ?, server_ts = ?, client_ts = ?, local_ts = ?,
			deleted_at = ?, pinned = ?, editing = ?
		WHERE id = ?`,
		append(m.writeArgs(), m.ID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update message: row %d not found", m.ID)
	}
	return nil
}

// GetMessage returns a message by identity key, or nil when absent.
// Soft-deleted rows are still returned; callers decide visibility.
func (db *DB) GetMessage(conversationID, identityKey string) (*Message, error) {
	return getMessage(db.DB, conversationID, identityKey)
}

// GetMessage is the transactional form of DB.GetMessage.
func (t *Tx) GetMessage(conversationID, identityKey string) (*Message, error) {
	return getMessage(t.tx, conversationID, identityKey)
}

func getMessage(e dbtx, conversationID, identityKey string) (*Message, error) {
	m, err := scanMessage(e.QueryRow(`
		SELECT id, `+messageCols+` FROM messages
		WHERE conversation_id = ? AND identity_key = ?`,
		conversationID, identityKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMessageByOptimisticID returns the row carrying the given optimistic
// id, or nil. After confirmation the row is found here by its retained
// optimistic id even though its identity key changed.
func (db *DB) GetMessageByOptimisticID(conversationID, optimisticID string) (*Message, error) {
	return getMessageByOptimisticID(db.DB, conversationID, optimisticID)
}

// GetMessageByOptimisticID is the transactional form of
// DB.GetMessageByOptimisticID.
func (t *Tx) GetMessageByOptimisticID(conversationID, optimisticID string) (*Message, error) {
	return getMessageByOptimisticID(t.tx, conversationID, optimisticID)
}

func getMessageByOptimisticID(e dbtx, conversationID, optimisticID string) (*Message, error) {
	if optimisticID == "" {
		return nil, nil
	}
	m, err := scanMessage(e.QueryRow(`
		SELECT id, `+messageCols+` FROM messages
		WHERE conversation_id = ? AND optimistic_id = ?`,
		conversationID, optimisticID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// QueryMessages returns up to limit live messages for a conversation in
// descending effective-timestamp order, ties broken by insertion order.
// beforeIdentityKey anchors keyset pagination; empty means newest page.
// The second return reports whether older rows remain.
func (db *DB) QueryMessages(conversationID string, limit int, beforeIdentityKey string) ([]Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, ` + messageCols + ` FROM messages
		WHERE conversation_id = ? AND deleted_at = 0`
	args := []any{conversationID}

	if beforeIdentityKey != "" {
		anchor, err := db.GetMessage(conversationID, beforeIdentityKey)
		if err != nil {
			return nil, false, err
		}
		if anchor != nil {
			ets := anchor.ServerTS
			if ets == 0 {
				ets = anchor.ClientTS
			}
			q += ` AND (effective_ts < ? OR (effective_ts = ? AND id < ?))`
			args = append(args, ets, ets, anchor.ID)
		}
	}

	q += ` ORDER BY effective_ts DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return msgs, hasMore, nil
}

// CountMessages returns the number of live rows for a conversation.
func (db *DB) CountMessages(conversationID string) (int64, error) {
	return countMessages(db.DB, conversationID)
}

// CountMessages is the transactional form of DB.CountMessages.
func (t *Tx) CountMessages(conversationID string) (int64, error) {
	return countMessages(t.tx, conversationID)
}

func countMessages(e dbtx, conversationID string) (int64, error) {
	var n int64
	err := e.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND deleted_at = 0`, conversationID).Scan(&n)
	return n, err
}

// DeleteExpiredMessages removes synced, unpinned rows whose local
// insertion time is older than cutoff. Rows whose sync status is
// PENDING or FAILED are never touched, regardless of age.
func (db *DB) DeleteExpiredMessages(cutoff int64) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE sync_status = 'SYNCED' AND pinned = 0 AND local_ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteConversation removes every row and the sync cursor for a
// conversation. Only invoked on explicit external request.
func (db *DB) DeleteConversation(conversationID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_cursors WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return tx.Commit()
}
