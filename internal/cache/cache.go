// Package cache is the local-first message cache handle: reads answer
// instantly from SQLite, optimistic writes show up before the server
// confirms them, and reconciliation merges authoritative batches in
// without duplicates. Construct one Cache, Open it, pass it around.
package cache

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/config"
	"github.com/MrX1068/stunxtV2-sub001/internal/metrics"
	"github.com/MrX1068/stunxtV2-sub001/internal/retention"
	"github.com/MrX1068/stunxtV2-sub001/internal/status"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
	"github.com/MrX1068/stunxtV2-sub001/internal/sync"
	"github.com/MrX1068/stunxtV2-sub001/internal/txq"
)

// ErrNotReady is returned by reads that arrive before Open completed.
// It is a distinct signal, never conflated with an empty conversation,
// so a UI can keep its loading state instead of flashing "no messages".
var ErrNotReady = errors.New("cache not ready")

// QueryResult is the answer to a message query. FromCache=false with no
// error means the read failed and the caller should fall through to a
// network fetch.
type QueryResult struct {
	Messages  []store.Message
	HasMore   bool
	FromCache bool
}

// OutgoingMessage is a locally authored message to register optimistically.
type OutgoingMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	Kind           string // defaults to "text"
	OptimisticID   string // generated when empty
	ClientTS       int64  // defaults to now
}

// Cache is the engine handle. All mutations funnel through one FIFO
// write queue; reads go straight to the store and may trail an
// enqueued-but-unapplied write (documented eventual consistency).
type Cache struct {
	cfg     *config.Config
	bus     *bus.Bus
	logger  *zap.Logger
	monitor *metrics.Monitor
	queue   *txq.Queue

	mu         gosync.Mutex
	db         *store.DB
	spaces     *store.SpaceDB
	reconciler *sync.Reconciler
	sweeper    *retention.Sweeper
	opened     bool
}

// New creates a closed cache handle. Nothing touches disk until Open.
func New(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	return &Cache{
		cfg:     cfg,
		bus:     b,
		logger:  logger,
		monitor: metrics.NewMonitor(),
		queue:   txq.New(cfg.WriteRetryAttempts, cfg.WriteRetryBase(), logger),
	}
}

// Open initializes both cache domains, migrates their schemas, and
// starts the write queue and retention sweeper. Idempotent: a second
// call on an open cache is a no-op.
func (c *Cache) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}

	db, err := store.Open(c.cfg.MessageDBPath())
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate message store: %w", err)
	}
	if result.Rebuilt {
		c.logger.Warn("message store rebuilt from scratch", zap.Uint("version", result.Version))
		if err := db.SetLastCleanup(time.Time{}); err != nil {
			_ = db.Close()
			return fmt.Errorf("reset cleanup marker: %w", err)
		}
	}

	spaces, err := store.OpenSpaces(c.cfg.SpaceDBPath())
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("open space store: %w", err)
	}
	spaceResult, err := spaces.Migrate()
	if err != nil {
		_ = spaces.Close()
		_ = db.Close()
		return fmt.Errorf("migrate space store: %w", err)
	}

	lastCleanup, err := db.LastCleanup()
	if err != nil {
		c.logger.Warn("could not read last cleanup time", zap.Error(err))
	}
	c.monitor.SetLastCleanup(lastCleanup)

	c.db = db
	c.spaces = spaces
	c.reconciler = sync.NewReconciler(db, c.queue, c.bus, c.logger)
	c.sweeper = retention.NewSweeper(db, spaces, c.queue, c.bus, c.monitor, c.logger,
		c.cfg.Retention(), c.cfg.SweepInterval())

	c.queue.Start(ctx)
	c.sweeper.Start(ctx)
	c.opened = true
	c.monitor.SetReady(true)

	c.bus.Publish(bus.Event{Kind: bus.KindCacheReady, Timestamp: time.Now()})
	c.logger.Info("cache open",
		zap.Uint("message_schema", result.Version),
		zap.Uint("space_schema", spaceResult.Version),
		zap.Bool("rebuilt", result.Rebuilt))
	return nil
}

// Close stops the sweeper, drains the write queue, and closes both
// stores. The cache reports not-ready immediately.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	c.monitor.SetReady(false)
	c.opened = false

	c.sweeper.Stop()
	c.queue.Stop()

	var errs []error
	if err := c.spaces.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close space store: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close message store: %w", err))
	}
	c.logger.Info("cache closed")
	return errors.Join(errs...)
}

// IsReady reports whether Open has completed.
func (c *Cache) IsReady() bool {
	return c.monitor.Ready()
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() metrics.Snapshot {
	return c.monitor.Snapshot()
}

// Bus returns the event bus consumers subscribe on.
func (c *Cache) Bus() *bus.Bus {
	return c.bus
}

// SetActiveConversation tells the engine which conversation the user is
// looking at; sync results for other conversations are stored without a
// visible-refresh hint.
func (c *Cache) SetActiveConversation(conversationID string) {
	c.mu.Lock()
	rec := c.reconciler
	c.mu.Unlock()
	if rec != nil {
		rec.SetActive(conversationID)
	}
}

// AddOptimisticMessage registers a locally authored message in PENDING
// state and returns the stored row. Called twice with the same
// optimistic id it stores exactly one row.
func (c *Cache) AddOptimisticMessage(ctx context.Context, out OutgoingMessage) (*store.Message, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if out.ConversationID == "" {
		return nil, &store.ValidationError{Field: "conversation_id"}
	}
	if out.SenderID == "" {
		return nil, &store.ValidationError{Field: "sender_id"}
	}
	if out.OptimisticID == "" {
		out.OptimisticID = "opt_" + uuid.New().String()
	}
	if out.Kind == "" {
		out.Kind = "text"
	}
	if out.ClientTS == 0 {
		out.ClientTS = time.Now().UnixMilli()
	}

	msg := &store.Message{
		ConversationID: out.ConversationID,
		IdentityKey:    out.OptimisticID,
		OptimisticID:   out.OptimisticID,
		SenderID:       out.SenderID,
		Content:        out.Content,
		Kind:           out.Kind,
		Status:         status.Pending,
		SyncStatus:     status.SyncPending,
		ClientTS:       out.ClientTS,
		LocalTS:        time.Now().UnixMilli(),
	}
	err := c.queue.Submit(ctx, "add_optimistic", func() error {
		return c.db.UpsertMessage(msg)
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Refresh:   true, // user-initiated, always visible
		Payload:   bus.MessageRef{ConversationID: msg.ConversationID, IdentityKey: msg.IdentityKey},
	})
	return msg, nil
}

// ReconcileBatch merges a batch of authoritative records for a
// conversation: new messages, history pages, or send confirmations
// correlated by optimistic id.
func (c *Cache) ReconcileBatch(ctx context.Context, conversationID string, records []sync.Record) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.reconciler.ApplyBatch(ctx, conversationID, records)
}

// UpdateMessageStatus advances the lifecycle of an existing row. The
// identity key may be either the current key or the retained optimistic
// id. ts (unix millis) stamps the server timestamp when it advances a
// confirmation; zero means "no timestamp supplied".
func (c *Cache) UpdateMessageStatus(ctx context.Context, conversationID, identityKey string, to status.Status, ts int64) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	if !to.Valid() {
		return fmt.Errorf("unknown message status %q", to)
	}

	var ref bus.MessageRef
	err := c.queue.Submit(ctx, "update_status", func() error {
		m, err := c.lookup(conversationID, identityKey)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("message %q not found in %q", identityKey, conversationID)
		}

		next, err := status.Advance(m.Status, to)
		if err != nil {
			return err
		}
		m.Status = next
		if to == status.Failed {
			// Transport gave up on this send; retention must keep the
			// row around until an explicit resend or discard.
			m.SyncStatus = status.SyncFailed
		}
		if to == status.Pending {
			// The resend edge: the row is in flight again, same as
			// ResendMessage.
			m.SyncStatus = status.SyncPending
		}
		if ts > 0 && m.ServerTS == 0 && to != status.Failed {
			m.ServerTS = ts
		}
		ref = bus.MessageRef{ConversationID: m.ConversationID, IdentityKey: m.IdentityKey}
		return c.db.UpdateMessageByID(m)
	})
	if err != nil {
		return err
	}

	kind := bus.KindMessageStatusChanged
	if to == status.Failed {
		kind = bus.KindMessageSendFailed
	}
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Refresh: true, Payload: ref})
	return nil
}

// ResendMessage returns a FAILED message to PENDING for another send
// attempt. The optimistic id is kept, so the eventual confirmation
// still matches this row.
func (c *Cache) ResendMessage(ctx context.Context, conversationID, identityKey string) (*store.Message, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	var resent *store.Message
	err := c.queue.Submit(ctx, "resend", func() error {
		m, err := c.lookup(conversationID, identityKey)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("message %q not found in %q", identityKey, conversationID)
		}
		next, err := status.Advance(m.Status, status.Pending)
		if err != nil {
			return err
		}
		m.Status = next
		m.SyncStatus = status.SyncPending
		m.ClientTS = time.Now().UnixMilli()
		if err := c.db.UpdateMessageByID(m); err != nil {
			return err
		}
		resent = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(bus.Event{
		Kind:      bus.KindMessageUpserted,
		Timestamp: time.Now(),
		Refresh:   true,
		Payload:   bus.MessageRef{ConversationID: resent.ConversationID, IdentityKey: resent.IdentityKey},
	})
	return resent, nil
}

// ClearConversation removes every cached row and the sync cursor for a
// conversation. Destructive; only for explicit external requests such
// as conversation deletion.
func (c *Cache) ClearConversation(ctx context.Context, conversationID string) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	return c.queue.Submit(ctx, "clear_conversation", func() error {
		return c.db.DeleteConversation(conversationID)
	})
}

// GetMessages returns up to limit messages for a conversation, newest
// first. Three outcomes: a normal hit (FromCache=true, possibly empty),
// ErrNotReady before Open completed, or a read failure reported as
// FromCache=false with no error so the caller falls through to the
// network without crashing a UI path.
func (c *Cache) GetMessages(ctx context.Context, conversationID string, limit int, beforeIdentityKey string) (QueryResult, error) {
	if err := c.requireReady(); err != nil {
		return QueryResult{}, err
	}
	if limit <= 0 {
		limit = c.cfg.QueryLimit
	}

	start := time.Now()
	msgs, hasMore, err := c.db.QueryMessages(conversationID, limit, beforeIdentityKey)
	elapsed := time.Since(start)

	if err != nil {
		c.monitor.RecordQuery(elapsed, false)
		c.logger.Warn("message query failed, caller should fall back to network",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return QueryResult{FromCache: false}, nil
	}

	c.monitor.RecordQuery(elapsed, true)
	return QueryResult{Messages: msgs, HasMore: hasMore, FromCache: true}, nil
}

// GetSyncCursor returns the sync bookkeeping for a conversation, or nil
// when it was never synced.
func (c *Cache) GetSyncCursor(conversationID string) (*store.SyncCursor, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.db.GetSyncCursor(conversationID)
}

// Sweep runs one retention pass immediately.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	if err := c.requireReady(); err != nil {
		return 0, err
	}
	return c.sweeper.SweepNow(ctx)
}

func (c *Cache) requireReady() error {
	if !c.monitor.Ready() {
		return ErrNotReady
	}
	return nil
}

// lookup resolves a message by identity key, falling back to the
// retained optimistic id.
func (c *Cache) lookup(conversationID, identityKey string) (*store.Message, error) {
	m, err := c.db.GetMessage(conversationID, identityKey)
	if err != nil || m != nil {
		return m, err
	}
	return c.db.GetMessageByOptimisticID(conversationID, identityKey)
}
