package sync

import (
	"time"

	"github.com/MrX1068/stunxtV2-sub001/internal/status"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
)

// Record is one authoritative server record handed to the reconciler by
// the transport layer: a new message, a history page entry, or a send
// confirmation correlated by OptimisticID. Empty string fields other
// than Content mean "not supplied"; Content is always authoritative
// because the server may normalize it server-side.
type Record struct {
	ServerID     string
	OptimisticID string
	SenderID     string
	SenderName   string
	Content      string
	Kind         string
	Status       status.Status // empty defaults to DELIVERED
	Timestamp    int64         // server timestamp, unix millis
	Deleted      bool
}

// identity returns the record's resolution key, preferring the server id.
func (r *Record) identity() string {
	if r.ServerID != "" {
		return r.ServerID
	}
	return r.OptimisticID
}

func (r *Record) status() status.Status {
	if r.Status == "" {
		return status.Delivered
	}
	return r.Status
}

// toMessage builds a brand-new row for a record with no local match.
func (r *Record) toMessage(conversationID string, now time.Time) *store.Message {
	kind := r.Kind
	if kind == "" {
		kind = "text"
	}
	ts := r.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}
	m := &store.Message{
		ConversationID: conversationID,
		IdentityKey:    r.identity(),
		OptimisticID:   r.OptimisticID,
		SenderID:       r.SenderID,
		SenderName:     r.SenderName,
		Content:        r.Content,
		Kind:           kind,
		Status:         r.status(),
		SyncStatus:     status.SyncSynced,
		ServerTS:       r.Timestamp,
		ClientTS:       ts,
		LocalTS:        now.UnixMilli(),
	}
	if r.Deleted {
		m.DeletedAt = now.UnixMilli()
	}
	return m
}

// mergeInto applies the record onto an existing row. The server payload
// wins for everything it supplies; local-UI-only state (editing, pinned),
// the retention anchor and the rowid are preserved. A confirmed
// optimistic row is rekeyed to the server id in place, retaining its
// optimistic id for late duplicate confirmations.
func (r *Record) mergeInto(m *store.Message, now time.Time) *store.Message {
	merged := *m
	if r.ServerID != "" {
		merged.IdentityKey = r.ServerID
	}
	if r.OptimisticID != "" && merged.OptimisticID == "" {
		merged.OptimisticID = r.OptimisticID
	}
	if r.SenderID != "" {
		merged.SenderID = r.SenderID
	}
	if r.SenderName != "" {
		merged.SenderName = r.SenderName
	}
	if r.Kind != "" {
		merged.Kind = r.Kind
	}
	merged.Content = r.Content
	merged.Status = status.Merge(merged.Status, r.status())
	merged.SyncStatus = status.SyncSynced
	if r.Timestamp > 0 {
		merged.ServerTS = r.Timestamp
	}
	if r.Deleted && merged.DeletedAt == 0 {
		merged.DeletedAt = now.UnixMilli()
	}
	return &merged
}
