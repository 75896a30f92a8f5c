package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testSpaceDB(t *testing.T) *SpaceDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spaces.db")
	db, err := OpenSpaces(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSpaceUpsertAndGet(t *testing.T) {
	db := testSpaceDB(t)

	s := &Space{SpaceID: "sp1", Name: "General", MemberCount: 12, LastActivityTS: 1000}
	if err := db.UpsertSpace(s); err != nil {
		t.Fatal(err)
	}

	s.Name = "General Renamed"
	s.LastActivityTS = 500 // stale activity must not regress
	if err := db.UpsertSpace(s); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSpace("sp1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "General Renamed" {
		t.Errorf("got %+v", got)
	}
	if got.LastActivityTS != 1000 {
		t.Errorf("last_activity_ts = %d, want 1000 (non-decreasing)", got.LastActivityTS)
	}
}

func TestSpaceTTL(t *testing.T) {
	db := testSpaceDB(t)
	now := time.Now().UnixMilli()

	if err := db.UpsertSpace(&Space{SpaceID: "gone", ExpiresAt: now - 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertSpace(&Space{SpaceID: "kept", ExpiresAt: 0}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSpace("gone")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired space returned: %+v", got)
	}

	spaces, err := db.ListSpaces(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(spaces) != 1 || spaces[0].SpaceID != "kept" {
		t.Errorf("ListSpaces = %+v", spaces)
	}

	purged, err := db.PurgeExpiredSpaces()
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged %d, want 1", purged)
	}
}

func TestSpaceDelete(t *testing.T) {
	db := testSpaceDB(t)

	if err := db.UpsertSpace(&Space{SpaceID: "sp1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteSpace("sp1"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSpace("sp1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("space survived delete")
	}
}
