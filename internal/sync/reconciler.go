// Package sync merges authoritative server batches into the local store
// without duplicating rows or losing in-flight optimistic writes.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
	"github.com/MrX1068/stunxtV2-sub001/internal/txq"
)

// Reconciler absorbs server batches. All identity resolution happens
// inside a single write-queue unit wrapping a single transaction, so a
// batch can race new optimistic writes for the same conversation without
// creating duplicates, and a mid-batch failure leaves nothing behind:
// the read-then-write runs under the queue's FIFO guarantee and commits
// atomically.
type Reconciler struct {
	db     *store.DB
	queue  *txq.Queue
	bus    *bus.Bus
	logger *zap.Logger

	mu     gosync.Mutex
	active string
}

// NewReconciler creates a reconciler writing through the given queue.
func NewReconciler(db *store.DB, queue *txq.Queue, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, queue: queue, bus: b, logger: logger}
}

// SetActive records the conversation currently visible to the user.
// Batches for other conversations are still applied in full, but their
// events carry Refresh=false so the UI does not repaint stale content.
func (r *Reconciler) SetActive(conversationID string) {
	r.mu.Lock()
	r.active = conversationID
	r.mu.Unlock()
}

func (r *Reconciler) isActive(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active == conversationID && conversationID != ""
}

// ApplyBatch merges records into conversationID and advances the sync
// cursor to the newest record timestamp seen. Applying the same batch
// twice yields the same stored rows.
func (r *Reconciler) ApplyBatch(ctx context.Context, conversationID string, records []Record) error {
	if conversationID == "" {
		return &store.ValidationError{Field: "conversation_id"}
	}
	if len(records) == 0 {
		return nil
	}

	var inserted, updated int
	var cursor *store.SyncCursor
	err := r.queue.Submit(ctx, "reconcile_batch", func() error {
		// The unit may re-run on a contention retry; counters restart
		// with it so the published totals cover one attempt only.
		inserted, updated = 0, 0
		// One transaction for the whole batch: a mid-batch failure
		// rolls everything back rather than leaving a partial batch.
		return r.db.InTx(func(tx *store.Tx) error {
			now := time.Now()
			var newest int64

			for i := range records {
				rec := &records[i]
				if rec.identity() == "" {
					r.logger.Warn("dropping record with no identity",
						zap.String("conversation_id", conversationID))
					continue
				}

				existing, err := resolve(tx, conversationID, rec)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", rec.identity(), err)
				}

				if existing != nil {
					if err := tx.UpdateMessageByID(rec.mergeInto(existing, now)); err != nil {
						return fmt.Errorf("merge %q: %w", rec.identity(), err)
					}
					updated++
				} else {
					if err := tx.UpsertMessage(rec.toMessage(conversationID, now)); err != nil {
						return fmt.Errorf("insert %q: %w", rec.identity(), err)
					}
					inserted++
				}

				if rec.Timestamp > newest {
					newest = rec.Timestamp
				}
			}

			var err error
			cursor, err = advanceCursor(tx, conversationID, newest)
			return err
		})
	})
	if err != nil {
		return err
	}

	r.bus.Publish(bus.Event{
		Kind:      bus.KindCursorAdvanced,
		Timestamp: time.Now(),
		Payload:   *cursor,
	})

	r.bus.Publish(bus.Event{
		Kind:      bus.KindBatchApplied,
		Timestamp: time.Now(),
		Refresh:   r.isActive(conversationID),
		Payload: bus.BatchApplied{
			ConversationID: conversationID,
			Inserted:       inserted,
			Updated:        updated,
		},
	})
	r.logger.Info("batch applied",
		zap.String("conversation_id", conversationID),
		zap.Int("inserted", inserted),
		zap.Int("updated", updated))
	return nil
}

// resolve finds the local row a record targets: by server id first, then
// by optimistic id for send confirmations. Nil means brand new.
func resolve(tx *store.Tx, conversationID string, rec *Record) (*store.Message, error) {
	if rec.ServerID != "" {
		m, err := tx.GetMessage(conversationID, rec.ServerID)
		if err != nil || m != nil {
			return m, err
		}
	}
	if rec.OptimisticID != "" {
		return tx.GetMessageByOptimisticID(conversationID, rec.OptimisticID)
	}
	return nil, nil
}

// advanceCursor moves the conversation watermark to the newest record
// timestamp and refreshes the cached row count, inside the batch's
// transaction. The store clamps last_sync_ts, so an out-of-order batch
// can only ever move the watermark forward.
func advanceCursor(tx *store.Tx, conversationID string, newest int64) (*store.SyncCursor, error) {
	cursor, err := tx.GetSyncCursor(conversationID)
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	if cursor == nil {
		cursor = &store.SyncCursor{ConversationID: conversationID, HasMoreHistory: true}
	}

	count, err := tx.CountMessages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	cursor.LastSyncTS = newest
	cursor.LastMessageTS = newest
	cursor.CachedCount = count
	cursor.SyncInProgress = false
	if err := tx.UpsertSyncCursor(cursor); err != nil {
		return nil, fmt.Errorf("upsert cursor: %w", err)
	}
	return cursor, nil
}
