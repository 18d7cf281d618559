package rowstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage/remote"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "rows.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	for _, table := range []string{"entries", "activity"} {
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestEntriesScopedAndOrdered(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rows := []remote.EntryRow{
		{Timestamp: 1, Date: "2025-01-01", Content: "first"},
		{Timestamp: 3, Date: "2025-01-02", Content: "photo.png", FilePath: "u1/3-photo.png", FileName: "photo.png", FileType: "image/png"},
		{Timestamp: 2, Date: "2025-01-01", Content: "second"},
	}
	for _, r := range rows {
		if err := db.InsertEntry(ctx, "u1", r); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}
	if err := db.InsertEntry(ctx, "u2", remote.EntryRow{Timestamp: 9, Content: "other user"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	want := []remote.EntryRow{rows[1], rows[2], rows[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListEntries mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertDuplicateTimestamp(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InsertEntry(ctx, "u1", remote.EntryRow{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertEntry(ctx, "u1", remote.EntryRow{Timestamp: 1}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	// Same timestamp under another owner is fine.
	if err := db.InsertEntry(ctx, "u2", remote.EntryRow{Timestamp: 1}); err != nil {
		t.Errorf("other owner: %v", err)
	}
}

func TestDeleteEntryOnlyTouchesOwner(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.InsertEntry(ctx, "u1", remote.EntryRow{Timestamp: 5})
	_ = db.InsertEntry(ctx, "u2", remote.EntryRow{Timestamp: 5})

	if err := db.DeleteEntry(ctx, "u1", 5); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteEntry(ctx, "u1", 5); err != nil {
		t.Errorf("second delete: %v", err)
	}
	u1, _ := db.ListEntries(ctx, "u1")
	u2, _ := db.ListEntries(ctx, "u2")
	if len(u1) != 0 || len(u2) != 1 {
		t.Errorf("u1 = %v, u2 = %v", u1, u2)
	}
}

func TestActivityNewestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	items := []models.ActivityItem{
		{Timestamp: 10, Kind: models.KindSession, Text: "Session started"},
		{Timestamp: 20, Kind: models.KindSave, Text: "Logged new entry"},
	}
	for _, it := range items {
		if err := db.InsertActivity(ctx, "u1", it); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.ListActivity(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.ActivityItem{items[1], items[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListActivity mismatch (-want +got):\n%s", diff)
	}
}

func TestActivityUnknownKindReadsAsMisc(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.conn.Exec(`INSERT INTO activity (user_id, ts, kind, text) VALUES ('u1', 1, 'weird', 'x')`); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListActivity(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != models.KindMisc {
		t.Errorf("got = %+v", got)
	}
}
