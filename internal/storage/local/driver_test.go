package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/blob"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDriver(t *testing.T) (*Driver, kv.Store, *blob.Registry) {
	t.Helper()
	store, err := kv.NewFS(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	blobs := blob.NewRegistry(0)
	t.Cleanup(blobs.Close)
	return New(store, blobs, quietLogger()), store, blobs
}

func TestCurrentUserIsSentinel(t *testing.T) {
	d, _, _ := testDriver(t)
	u, err := d.CurrentUser(context.Background())
	if err != nil || !u.IsLocal() {
		t.Errorf("user = %+v, err = %v", u, err)
	}
}

func TestCreateThenList(t *testing.T) {
	d, _, _ := testDriver(t)
	ctx := context.Background()
	e := models.Entry{Timestamp: 10, Date: "2025-01-01", Content: "hello"}
	if err := d.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	list, err := d.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(list) != 1 || list[0].Timestamp != 10 || list[0].Date != "2025-01-01" || list[0].Content != "hello" {
		t.Errorf("list = %+v", list)
	}
}

func TestListNewestFirst(t *testing.T) {
	d, _, _ := testDriver(t)
	ctx := context.Background()
	for _, ts := range []int64{20, 5, 30} {
		_ = d.CreateEntry(ctx, models.Entry{Timestamp: ts, Date: "2025-01-01", Content: "x"})
	}
	list, _ := d.ListEntries(ctx)
	if list[0].Timestamp != 30 || list[1].Timestamp != 20 || list[2].Timestamp != 5 {
		t.Errorf("order = %d %d %d", list[0].Timestamp, list[1].Timestamp, list[2].Timestamp)
	}
}

func TestListEmptyNeverNil(t *testing.T) {
	d, _, _ := testDriver(t)
	list, err := d.ListEntries(context.Background())
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("list = %#v, err = %v", list, err)
	}
}

func TestCorruptDocumentTreatedAsAbsent(t *testing.T) {
	d, store, _ := testDriver(t)
	_ = store.Set(KeyEntries, []byte("{not json"))
	list, err := d.ListEntries(context.Background())
	if err != nil || len(list) != 0 {
		t.Fatalf("list = %+v, err = %v", list, err)
	}
	if err := d.CreateEntry(context.Background(), models.Entry{Timestamp: 1, Date: "d", Content: "c"}); err != nil {
		t.Fatalf("CreateEntry after corruption: %v", err)
	}
}

func TestDeleteEntry(t *testing.T) {
	d, _, _ := testDriver(t)
	ctx := context.Background()
	_ = d.CreateEntry(ctx, models.Entry{Timestamp: 1, Date: "d", Content: "a"})
	_ = d.CreateEntry(ctx, models.Entry{Timestamp: 2, Date: "d", Content: "b"})
	if err := d.DeleteEntry(ctx, 1, ""); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	list, _ := d.ListEntries(ctx)
	for _, e := range list {
		if e.Timestamp == 1 {
			t.Error("deleted entry still listed")
		}
	}
	if len(list) != 1 {
		t.Errorf("len = %d", len(list))
	}
}

func TestUploadCreatesSessionReference(t *testing.T) {
	d, _, blobs := testDriver(t)
	a, err := d.UploadFile(context.Background(), storage.File{Name: "a.txt", Body: strings.NewReader("hi")})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if a.StorageKey != "" {
		t.Errorf("storage key = %q, want empty", a.StorageKey)
	}
	if a.MimeType != defaultMimeType {
		t.Errorf("mime = %q", a.MimeType)
	}
	if !blobs.Live(a.URL) {
		t.Error("expected live reference")
	}
	url, err := d.ResolveAttachment(context.Background(), *a)
	if err != nil || url != a.URL {
		t.Errorf("resolve = %q, %v", url, err)
	}
}

func TestRevokedReferenceMarkedUnavailable(t *testing.T) {
	d, _, blobs := testDriver(t)
	ctx := context.Background()
	a, _ := d.UploadFile(ctx, storage.File{Name: "a.txt", MimeType: "text/plain", Body: strings.NewReader("hi")})
	_ = d.CreateEntry(ctx, models.Entry{Timestamp: 1, Date: "d", Content: "c", Attachment: a})

	id, _ := blob.IDFromURL(a.URL)
	blobs.Revoke(id)

	list, _ := d.ListEntries(ctx)
	if !list[0].Attachment.Unavailable {
		t.Error("expected unavailable attachment")
	}
	if list[0].Attachment.URL != a.URL {
		t.Error("url should be kept")
	}
	if _, err := d.ResolveAttachment(ctx, *list[0].Attachment); !errors.Is(err, apperr.ErrResolution) {
		t.Errorf("resolve err = %v", err)
	}
}

func TestQuotaSurfacesAsCreateFailed(t *testing.T) {
	store, err := kv.NewFS(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	d := New(store, blob.NewRegistry(0), quietLogger())
	err = d.CreateEntry(context.Background(), models.Entry{Timestamp: 1, Date: "2025-01-01", Content: strings.Repeat("x", 64)})
	if !errors.Is(err, apperr.ErrCreateFailed) || !errors.Is(err, kv.ErrQuotaExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestActivityDocument(t *testing.T) {
	d, _, _ := testDriver(t)
	ctx := context.Background()
	_ = d.LogActivity(ctx, models.ActivityItem{Timestamp: 1, Kind: models.KindSave, Text: "a"})
	_ = d.LogActivity(ctx, models.ActivityItem{Timestamp: 2, Kind: models.KindTab, Text: "b"})
	items, _ := d.ListActivity(ctx)
	if len(items) != 2 || items[0].Text != "b" {
		t.Errorf("items = %+v", items)
	}
	if err := d.ReplaceActivity(ctx, []models.ActivityItem{{Timestamp: 3, Kind: models.KindMisc, Text: "c"}}); err != nil {
		t.Fatal(err)
	}
	items, _ = d.ListActivity(ctx)
	if len(items) != 1 || items[0].Text != "c" {
		t.Errorf("after replace = %+v", items)
	}
}

// flakyStore fails every Get while broken is set.
type flakyStore struct {
	kv.Store
	broken bool
}

var errIO = errors.New("input/output error")

func (s *flakyStore) Get(key string) ([]byte, error) {
	if s.broken {
		return nil, errIO
	}
	return s.Store.Get(key)
}

func TestReadFailureNeverOverwrites(t *testing.T) {
	inner, err := kv.NewFS(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	store := &flakyStore{Store: inner}
	blobs := blob.NewRegistry(0)
	t.Cleanup(blobs.Close)
	d := New(store, blobs, quietLogger())
	ctx := context.Background()

	for _, ts := range []int64{1, 2, 3} {
		if err := d.CreateEntry(ctx, models.Entry{Timestamp: ts, Content: "x"}); err != nil {
			t.Fatalf("CreateEntry(%d): %v", ts, err)
		}
	}
	if err := d.LogActivity(ctx, models.ActivityItem{Timestamp: 1, Text: "a", Kind: models.KindSave}); err != nil {
		t.Fatalf("LogActivity: %v", err)
	}

	store.broken = true
	if _, err := d.ListEntries(ctx); !errors.Is(err, errIO) {
		t.Errorf("ListEntries err = %v, want read error", err)
	}
	if _, err := d.ListActivity(ctx); !errors.Is(err, errIO) {
		t.Errorf("ListActivity err = %v, want read error", err)
	}
	if err := d.CreateEntry(ctx, models.Entry{Timestamp: 9, Content: "y"}); !errors.Is(err, apperr.ErrCreateFailed) {
		t.Errorf("CreateEntry err = %v, want ErrCreateFailed", err)
	}
	if err := d.DeleteEntry(ctx, 2, ""); !errors.Is(err, apperr.ErrDeleteFailed) {
		t.Errorf("DeleteEntry err = %v, want ErrDeleteFailed", err)
	}
	if err := d.LogActivity(ctx, models.ActivityItem{Timestamp: 2, Text: "b", Kind: models.KindSave}); err == nil {
		t.Error("LogActivity succeeded on a failing store")
	}

	store.broken = false
	list, err := d.ListEntries(ctx)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("entries after recovery = %d, want 3", len(list))
	}
	items, _ := d.ListActivity(ctx)
	if len(items) != 1 {
		t.Errorf("activity after recovery = %d, want 1", len(items))
	}
}

func TestDiscardUploadRevokesReference(t *testing.T) {
	d, _, blobs := testDriver(t)
	ctx := context.Background()
	a, err := d.UploadFile(ctx, storage.File{Name: "a.png", MimeType: "image/png", Body: strings.NewReader("png")})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.DiscardUpload(ctx, *a); err != nil {
		t.Fatalf("DiscardUpload: %v", err)
	}
	if blobs.Live(a.URL) {
		t.Error("reference still live after discard")
	}
}
