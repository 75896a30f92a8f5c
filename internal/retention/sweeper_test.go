package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/metrics"
	"github.com/MrX1068/stunxtV2-sub001/internal/status"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
	"github.com/MrX1068/stunxtV2-sub001/internal/txq"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testQueue(t *testing.T) *txq.Queue {
	t.Helper()
	q := txq.New(3, time.Millisecond, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func seed(t *testing.T, db *store.DB, key string, syncStatus status.SyncStatus, age time.Duration, pinned bool) {
	t.Helper()
	err := db.UpsertMessage(&store.Message{
		ConversationID: "c1",
		IdentityKey:    key,
		SenderID:       "u1",
		Status:         status.Delivered,
		SyncStatus:     syncStatus,
		ClientTS:       1000,
		LocalTS:        time.Now().Add(-age).UnixMilli(),
		Pinned:         pinned,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweepSelectivity(t *testing.T) {
	db := testDB(t)
	mon := metrics.NewMonitor()
	// Zero retention window: anything synced and aged a day is gone.
	s := NewSweeper(db, nil, testQueue(t), bus.New(), mon, nil, 0, time.Hour)

	seed(t, db, "old-synced", status.SyncSynced, 24*time.Hour, false)
	seed(t, db, "old-pending", status.SyncPending, 24*time.Hour, false)
	seed(t, db, "old-failed", status.SyncFailed, 24*time.Hour, false)
	seed(t, db, "old-pinned", status.SyncSynced, 24*time.Hour, true)

	deleted, err := s.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if m, _ := db.GetMessage("c1", "old-synced"); m != nil {
		t.Error("old synced row survived")
	}
	for _, key := range []string{"old-pending", "old-failed", "old-pinned"} {
		if m, _ := db.GetMessage("c1", key); m == nil {
			t.Errorf("%s deleted by sweep", key)
		}
	}

	if mon.Snapshot().LastCleanup.IsZero() {
		t.Error("monitor LastCleanup not updated")
	}
	got, err := db.LastCleanup()
	if err != nil || got.IsZero() {
		t.Errorf("persisted LastCleanup = %v, %v", got, err)
	}
}

func TestSweepRespectsWindow(t *testing.T) {
	db := testDB(t)
	s := NewSweeper(db, nil, testQueue(t), bus.New(), nil, nil, 30*24*time.Hour, time.Hour)

	seed(t, db, "recent-synced", status.SyncSynced, 24*time.Hour, false)
	seed(t, db, "ancient-synced", status.SyncSynced, 60*24*time.Hour, false)

	deleted, err := s.SweepNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if m, _ := db.GetMessage("c1", "recent-synced"); m == nil {
		t.Error("row inside the retention window deleted")
	}
}

func TestSweepPublishesEvent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSweeper(db, nil, testQueue(t), b, nil, nil, 0, time.Hour)

	sub := b.Subscribe("cache.", 10)
	defer sub.Cancel()

	seed(t, db, "old-synced", status.SyncSynced, 24*time.Hour, false)
	if _, err := s.SweepNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-sub.C():
		if evt.Kind != bus.KindCleanupDone {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindCleanupDone)
		}
		done := evt.Payload.(bus.CleanupDone)
		if done.Deleted != 1 {
			t.Errorf("Deleted = %d, want 1", done.Deleted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cleanup event")
	}
}
