package bus

import "time"

// Event kinds published by the cache engine.
const (
	KindMessageUpserted      = "message.upserted"
	KindMessageStatusChanged = "message.status_changed"
	KindMessageSendFailed    = "message.send_failed"
	KindBatchApplied         = "sync.batch_applied"
	KindCursorAdvanced       = "sync.cursor_advanced"
	KindCleanupDone          = "cache.cleanup_done"
	KindCacheReady           = "cache.ready"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	// Refresh hints that the presentation layer should re-render the
	// affected conversation. The reconciler leaves it false for batches
	// that do not target the active conversation, so late results are
	// persisted without flashing stale content on screen.
	Refresh bool
	Payload any
}

// MessageRef identifies one message row in event payloads.
type MessageRef struct {
	ConversationID string
	IdentityKey    string
}

// BatchApplied is the payload for sync.batch_applied events.
type BatchApplied struct {
	ConversationID string
	Inserted       int
	Updated        int
}

// CleanupDone is the payload for cache.cleanup_done events.
type CleanupDone struct {
	Deleted   int64
	RanAt     time.Time
	Retention time.Duration
}
