package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrX1068/stunxtV2-sub001/internal/bus"
	"github.com/MrX1068/stunxtV2-sub001/internal/status"
	"github.com/MrX1068/stunxtV2-sub001/internal/store"
	"github.com/MrX1068/stunxtV2-sub001/internal/txq"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testReconciler(t *testing.T, db *store.DB, b *bus.Bus) *Reconciler {
	t.Helper()
	q := txq.New(3, time.Millisecond, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	if b == nil {
		b = bus.New()
	}
	return NewReconciler(db, q, b, nil)
}

func TestApplyBatchInsertsNewRows(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Content: "hey", Timestamp: 100},
		{ServerID: "m2", SenderID: "u2", Content: "ho", Timestamp: 200},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, _ := db.CountMessages("c1")
	if n != 2 {
		t.Fatalf("got %d rows, want 2", n)
	}
	m, err := db.GetMessage("c1", "m1")
	if err != nil || m == nil {
		t.Fatalf("m1 missing: %v", err)
	}
	if m.Status != status.Delivered {
		t.Errorf("status = %s, want DELIVERED default", m.Status)
	}
	if m.SyncStatus != status.SyncSynced {
		t.Errorf("sync_status = %s, want SYNCED", m.SyncStatus)
	}
	if m.ServerTS != 100 {
		t.Errorf("server_ts = %d, want 100", m.ServerTS)
	}
}

func TestApplyBatchIdempotent(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	batch := []Record{
		{ServerID: "m1", SenderID: "u1", Content: "hey", Timestamp: 100},
		{ServerID: "m2", SenderID: "u1", Content: "ho", Timestamp: 200},
	}
	for i := 0; i < 2; i++ {
		if err := r.ApplyBatch(context.Background(), "c1", batch); err != nil {
			t.Fatal(err)
		}
	}

	n, _ := db.CountMessages("c1")
	if n != 2 {
		t.Fatalf("got %d rows after replay, want 2 (no duplicates)", n)
	}
}

func TestConfirmationRekeysOptimisticRow(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	// Locally authored message awaiting confirmation.
	if err := db.UpsertMessage(&store.Message{
		ConversationID: "c1",
		IdentityKey:    "opt_1",
		OptimisticID:   "opt_1",
		SenderID:       "me",
		Content:        "hi",
		Status:         status.Pending,
		SyncStatus:     status.SyncPending,
		ClientTS:       50,
	}); err != nil {
		t.Fatal(err)
	}

	err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", OptimisticID: "opt_1", SenderID: "me", Content: "hi", Status: status.Sent, Timestamp: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, _ := db.CountMessages("c1")
	if n != 1 {
		t.Fatalf("got %d rows, want 1 (confirmation must not duplicate)", n)
	}
	m, _ := db.GetMessage("c1", "m1")
	if m == nil {
		t.Fatal("row not rekeyed to server id")
	}
	if m.OptimisticID != "opt_1" {
		t.Errorf("optimistic_id = %q, want retained opt_1", m.OptimisticID)
	}
	if m.Status != status.Sent {
		t.Errorf("status = %s, want SENT", m.Status)
	}
	if m.SyncStatus != status.SyncSynced {
		t.Errorf("sync_status = %s, want SYNCED", m.SyncStatus)
	}

	// A late duplicate confirmation still matches by optimistic id.
	err = r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", OptimisticID: "opt_1", SenderID: "me", Content: "hi", Status: status.Delivered, Timestamp: 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	n, _ = db.CountMessages("c1")
	if n != 1 {
		t.Fatalf("got %d rows after duplicate confirmation, want 1", n)
	}
	m, _ = db.GetMessage("c1", "m1")
	if m.Status != status.Delivered {
		t.Errorf("status = %s, want DELIVERED", m.Status)
	}
}

func TestMergePreservesLocalOnlyFields(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	if err := db.UpsertMessage(&store.Message{
		ConversationID: "c1",
		IdentityKey:    "opt_1",
		OptimisticID:   "opt_1",
		SenderID:       "me",
		Content:        "draft text",
		Status:         status.Pending,
		SyncStatus:     status.SyncPending,
		ClientTS:       50,
		Pinned:         true,
		Editing:        true,
	}); err != nil {
		t.Fatal(err)
	}

	// Server normalized the content; it wins. Local UI state survives.
	err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", OptimisticID: "opt_1", SenderID: "me", Content: "normalized text", Timestamp: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage("c1", "m1")
	if m == nil {
		t.Fatal("row missing")
	}
	if m.Content != "normalized text" {
		t.Errorf("content = %q, want server version", m.Content)
	}
	if !m.Pinned || !m.Editing {
		t.Errorf("local-only fields lost: pinned=%v editing=%v", m.Pinned, m.Editing)
	}
}

func TestStatusNeverRegressesOnReplayedBatch(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	if err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Content: "x", Status: status.Read, Timestamp: 300},
	}); err != nil {
		t.Fatal(err)
	}
	// An older batch replays with a stale status.
	if err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Content: "x", Status: status.Delivered, Timestamp: 300},
	}); err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage("c1", "m1")
	if m.Status != status.Read {
		t.Errorf("status = %s, want READ (no regression)", m.Status)
	}

	// A stale FAILED record is the same replay case: a row the server
	// already confirmed read cannot fail afterwards.
	if err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Content: "x", Status: status.Failed, Timestamp: 300},
	}); err != nil {
		t.Fatal(err)
	}
	m, _ = db.GetMessage("c1", "m1")
	if m.Status != status.Read {
		t.Errorf("status after failed replay = %s, want READ", m.Status)
	}
}

func TestFailedBatchLeavesNoPartialState(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	// The second record is invalid (no sender), so the batch fails
	// after the first record was already written inside the tx.
	err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Content: "first", Timestamp: 100},
		{ServerID: "m2", Content: "no sender", Timestamp: 200},
	})
	if err == nil {
		t.Fatal("ApplyBatch succeeded, want validation failure")
	}

	// Everything rolls back as one transaction.
	if m, _ := db.GetMessage("c1", "m1"); m != nil {
		t.Errorf("partial batch visible: %+v", m)
	}
	if cur, _ := db.GetSyncCursor("c1"); cur != nil {
		t.Errorf("cursor advanced for failed batch: %+v", cur)
	}
}

func TestCursorAdvancesToNewestAndClamps(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	if err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m1", SenderID: "u1", Timestamp: 500},
		{ServerID: "m2", SenderID: "u1", Timestamp: 300},
	}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetSyncCursor("c1")
	if err != nil || c == nil {
		t.Fatalf("cursor: %v %v", c, err)
	}
	if c.LastSyncTS != 500 {
		t.Errorf("last_sync_ts = %d, want 500", c.LastSyncTS)
	}
	if c.CachedCount != 2 {
		t.Errorf("cached_count = %d, want 2", c.CachedCount)
	}

	// An older history page arrives after: watermark must not regress.
	if err := r.ApplyBatch(context.Background(), "c1", []Record{
		{ServerID: "m0", SenderID: "u1", Timestamp: 100},
	}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetSyncCursor("c1")
	if c.LastSyncTS != 500 {
		t.Errorf("last_sync_ts = %d after old page, want 500", c.LastSyncTS)
	}
	if c.CachedCount != 3 {
		t.Errorf("cached_count = %d, want 3", c.CachedCount)
	}
}

func TestRefreshHintOnlyForActiveConversation(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	r := testReconciler(t, db, b)
	r.SetActive("c-visible")

	sub := b.Subscribe(bus.KindBatchApplied, 10)
	defer sub.Cancel()

	if err := r.ApplyBatch(context.Background(), "c-background", []Record{
		{ServerID: "m1", SenderID: "u1", Timestamp: 100},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.ApplyBatch(context.Background(), "c-visible", []Record{
		{ServerID: "m2", SenderID: "u1", Timestamp: 100},
	}); err != nil {
		t.Fatal(err)
	}

	for _, want := range []struct {
		conv    string
		refresh bool
	}{
		{"c-background", false},
		{"c-visible", true},
	} {
		select {
		case evt := <-sub.C():
			applied := evt.Payload.(bus.BatchApplied)
			if applied.ConversationID != want.conv {
				t.Fatalf("event for %q, want %q", applied.ConversationID, want.conv)
			}
			if evt.Refresh != want.refresh {
				t.Errorf("%s: Refresh = %v, want %v", want.conv, evt.Refresh, want.refresh)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s event", want.conv)
		}
	}
}

func TestRecordWithoutIdentityIsDropped(t *testing.T) {
	db := testDB(t)
	r := testReconciler(t, db, nil)

	err := r.ApplyBatch(context.Background(), "c1", []Record{
		{SenderID: "u1", Content: "orphan", Timestamp: 100},
		{ServerID: "m1", SenderID: "u1", Content: "ok", Timestamp: 200},
	})
	if err != nil {
		t.Fatal(err)
	}

	n, _ := db.CountMessages("c1")
	if n != 1 {
		t.Errorf("got %d rows, want 1 (identity-less record dropped)", n)
	}
}
