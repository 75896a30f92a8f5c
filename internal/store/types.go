package store

import "github.com/MrX1068/stunxtV2-sub001/internal/status"

// Message is one chat message as known locally. IdentityKey is the
// server-assigned id once confirmed, or the optimistic id until then;
// OptimisticID is retained after confirmation as a secondary lookup key
// for late duplicate confirmations. All timestamps are unix millis.
type Message struct {
	ID             int64
	ConversationID string
	IdentityKey    string
	OptimisticID   string
	SenderID       string
	SenderName     string
	Content        string
	Kind           string
	Status         status.Status
	SyncStatus     status.SyncStatus
	ServerTS       int64 // 0 until the server confirms
	ClientTS       int64
	LocalTS        int64 // cache insertion time, drives retention
	DeletedAt      int64 // soft delete marker, 0 = live
	Pinned         bool
	Editing        bool // local-UI-only, never supplied by the server
}

// SyncCursor is the per-conversation history sync bookkeeping.
type SyncCursor struct {
	ConversationID string
	LastSyncTS     int64 // watermark, non-decreasing
	LastMessageTS  int64
	CachedCount    int64
	HasMoreHistory bool
	SyncInProgress bool
}

// Profile is a TTL-bounded user display-info cache entry.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarRef   string
	CachedAt    int64
	ExpiresAt   int64
}

// Space is cached community/space display metadata. It lives in its own
// database, versioned independently of the message store.
type Space struct {
	SpaceID        string
	Name           string
	IconRef        string
	MemberCount    int64
	LastActivityTS int64
	CachedAt       int64
	ExpiresAt      int64 // 0 = no expiry
}
