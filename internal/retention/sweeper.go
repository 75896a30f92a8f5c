// Package retention reclaims space from old, fully synced cache rows.
// Unsynced work is never eligible: a PENDING or FAILED row survives any
// retention window until it reconciles or the user discards it.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/metrics"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
	"github.com/MrX1068/stunxtV2-sub001/internal/txq"
)

// Sweeper runs the periodic retention cleanup.
type Sweeper struct {
	db       *store.DB
	spaces   *store.SpaceDB
	queue    *txq.Queue
	bus      *bus.Bus
	monitor  *metrics.Monitor
	logger   *zap.Logger
	window   time.Duration
	interval time.Duration
	cancel   context.CancelFunc
}

// NewSweeper creates a sweeper deleting synced rows older than window,
// running every interval. spaces may be nil.
func NewSweeper(db *store.DB, spaces *store.SpaceDB, queue *txq.Queue, b *bus.Bus, monitor *metrics.Monitor, logger *zap.Logger, window, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		db:       db,
		spaces:   spaces,
		queue:    queue,
		bus:      b,
		monitor:  monitor,
		logger:   logger,
		window:   window,
		interval: interval,
	}
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the loop. A sweep already submitted runs to completion.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepNow(ctx); err != nil {
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepNow runs one cleanup pass and returns the number of message rows
// deleted. The deletion is a serialized write unit; the reclaim pass and
// bookkeeping run after it commits.
func (s *Sweeper) SweepNow(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.window).UnixMilli()

	var deleted int64
	err := s.queue.Submit(ctx, "retention_sweep", func() error {
		n, err := s.db.DeleteExpiredMessages(cutoff)
		if err != nil {
			return fmt.Errorf("delete expired: %w", err)
		}
		deleted = n

		if _, err := s.db.PurgeExpiredProfiles(); err != nil {
			return fmt.Errorf("purge profiles: %w", err)
		}
		if s.spaces != nil {
			if _, err := s.spaces.PurgeExpiredSpaces(); err != nil {
				return fmt.Errorf("purge spaces: %w", err)
			}
		}

		now := time.Now()
		if err := s.db.SetLastCleanup(now); err != nil {
			return fmt.Errorf("record cleanup time: %w", err)
		}
		if s.monitor != nil {
			s.monitor.SetLastCleanup(now)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := s.db.Reclaim(); err != nil {
		s.logger.Warn("storage reclaim failed", zap.Error(err))
	}

	metrics.SweepDeletedTotal.Add(float64(deleted))
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindCleanupDone,
			Timestamp: time.Now(),
			Payload: bus.CleanupDone{
				Deleted:   deleted,
				RanAt:     time.Now(),
				Retention: s.window,
			},
		})
	}
	s.logger.Info("retention sweep done",
		zap.Int64("deleted", deleted),
		zap.Duration("window", s.window))
	return deleted, nil
}
