package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
	"github.com/starford/timedline/internal/storage/local"
	"github.com/starford/timedline/internal/testutil"
)

func quietLogger() *slog.Logger { return testutil.Logger() }

func localDriver(t *testing.T) *local.Driver {
	t.Helper()
	d, _, _ := testutil.LocalDriver(t)
	return d
}

// remoteDriver is a storage.Driver reporting itself as remote.
type remoteDriver struct {
	storage.Driver
	user *models.User

	mu      sync.Mutex
	logged  []models.ActivityItem
	listed  []models.ActivityItem
	logErr  error
	listErr error
}

func (r *remoteDriver) Name() string { return storage.DriverRemote }

func (r *remoteDriver) CurrentUser(context.Context) (*models.User, error) { return r.user, nil }

func (r *remoteDriver) LogActivity(_ context.Context, item models.ActivityItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logErr != nil {
		return r.logErr
	}
	r.logged = append(r.logged, item)
	return nil
}

func (r *remoteDriver) ListActivity(context.Context) ([]models.ActivityItem, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.listed, nil
}

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func TestLoadSeedsSessionStarted(t *testing.T) {
	d := localDriver(t)
	m := New(storage.NewSelector(d), WithMirror(d), WithLogger(quietLogger()), WithNow(fixedNow))
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	items := m.Items()
	if len(items) != 1 || items[0].Text != "Session started" || items[0].Kind != models.KindSession || items[0].Timestamp != 1700000000000 {
		t.Errorf("items = %+v", items)
	}
	mirrored, _ := d.ListActivity(context.Background())
	if len(mirrored) != 1 {
		t.Errorf("mirror = %+v", mirrored)
	}
}

func TestLoadPrefersMirror(t *testing.T) {
	d := localDriver(t)
	ctx := context.Background()
	prev := []models.ActivityItem{{Timestamp: 2, Kind: models.KindSave, Text: "b"}, {Timestamp: 1, Kind: models.KindTab, Text: "a"}}
	if err := d.ReplaceActivity(ctx, prev); err != nil {
		t.Fatal(err)
	}
	m := New(storage.NewSelector(d), WithMirror(d), WithLogger(quietLogger()))
	_ = m.Load(ctx)
	if got := m.Items(); len(got) != 2 || got[0].Text != "b" {
		t.Errorf("items = %+v", got)
	}
}

// brokenMirror fails reads and records every write.
type brokenMirror struct {
	readErr error
	writes  int
}

func (b *brokenMirror) ListActivity(context.Context) ([]models.ActivityItem, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	return []models.ActivityItem{{Timestamp: 1, Kind: models.KindSave, Text: "kept"}}, nil
}

func (b *brokenMirror) ReplaceActivity(context.Context, []models.ActivityItem) error {
	b.writes++
	return nil
}

func TestUnreadableMirrorIsNotOverwritten(t *testing.T) {
	d := localDriver(t)
	ctx := context.Background()
	mirror := &brokenMirror{readErr: errors.New("input/output error")}
	m := New(storage.NewSelector(d), WithMirror(mirror), WithLogger(quietLogger()), WithNow(fixedNow))

	if err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if items := m.Items(); len(items) != 1 || items[0].Text != "Session started" {
		t.Errorf("items = %+v", items)
	}
	m.Log(ctx, "Opened entry from 2025-01-01", models.KindOpen)
	if mirror.writes != 0 {
		t.Fatalf("mirror written %d times while unreadable", mirror.writes)
	}

	mirror.readErr = nil
	if err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if items := m.Items(); len(items) != 1 || items[0].Text != "kept" {
		t.Errorf("items after recovery = %+v", items)
	}
	m.Log(ctx, "Searched: \"lake\"", models.KindSearch)
	if mirror.writes == 0 {
		t.Error("mirror not written after a successful read")
	}
}

func TestLoadFromRemoteWhenSignedIn(t *testing.T) {
	d := localDriver(t)
	ctx := context.Background()
	_ = d.ReplaceActivity(ctx, []models.ActivityItem{{Timestamp: 1, Text: "local"}})

	r := &remoteDriver{user: &models.User{ID: "u1"}, listed: []models.ActivityItem{{Timestamp: 9, Kind: models.KindSave, Text: "remote"}}}
	sel := storage.NewSelector(d)
	_ = sel.Promote(r)
	m := New(sel, WithMirror(d), WithLogger(quietLogger()))
	_ = m.Load(ctx)
	if got := m.Items(); len(got) != 1 || got[0].Text != "remote" {
		t.Errorf("items = %+v", got)
	}

	// Signed out: the mirror, which now holds the remote copy, is used.
	r.user = nil
	_ = m.Load(ctx)
	if got := m.Items(); len(got) != 1 || got[0].Text != "remote" {
		t.Errorf("signed-out items = %+v", got)
	}
}

func TestLogPrependsAndMirrors(t *testing.T) {
	d := localDriver(t)
	ctx := context.Background()
	m := New(storage.NewSelector(d), WithMirror(d), WithLogger(quietLogger()))
	_ = m.Load(ctx)

	m.Log(ctx, "Switched to search tab", models.KindTab)
	m.Log(ctx, "untyped", "")
	items := m.Items()
	if len(items) != 3 || items[0].Text != "untyped" || items[0].Kind != models.KindMisc || items[1].Kind != models.KindTab {
		t.Errorf("items = %+v", items)
	}
	mirrored, _ := d.ListActivity(ctx)
	if len(mirrored) != 3 || mirrored[0].Text != "untyped" {
		t.Errorf("mirror = %+v", mirrored)
	}
}

func TestLogIgnoredWhilePaused(t *testing.T) {
	d := localDriver(t)
	m := New(storage.NewSelector(d), WithLogger(quietLogger()))
	ctx := context.Background()

	m.SetPaused(true)
	if !m.Paused() {
		t.Fatal("not paused")
	}
	m.Log(ctx, "hidden", models.KindSave)
	if len(m.Items()) != 0 {
		t.Errorf("items = %+v", m.Items())
	}
	m.SetPaused(false)
	m.Log(ctx, "visible", models.KindSave)
	if len(m.Items()) != 1 {
		t.Errorf("items = %+v", m.Items())
	}
}

func TestLocalDriverDoesNotPersistPerItem(t *testing.T) {
	// With the local driver active only the mirror is written.
	d := localDriver(t)
	m := New(storage.NewSelector(d), WithLogger(quietLogger()))
	m.Log(context.Background(), "x", models.KindMisc)
	m.Wait()
	stored, _ := d.ListActivity(context.Background())
	if len(stored) != 0 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRemoteFailureKeepsOptimisticItem(t *testing.T) {
	d := localDriver(t)
	r := &remoteDriver{user: &models.User{ID: "u1"}, logErr: errors.New("insert denied")}
	sel := storage.NewSelector(d)
	_ = sel.Promote(r)

	var mu sync.Mutex
	var failures []error
	m := New(sel, WithMirror(d), WithLogger(quietLogger()), WithErrorHandler(func(_ models.ActivityItem, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}))

	m.Log(context.Background(), "Logged new entry", models.KindSave)
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || failures[0].Error() != "insert denied" {
		t.Errorf("failures = %v", failures)
	}
	if got := m.Items(); len(got) != 1 || got[0].Text != "Logged new entry" {
		t.Errorf("items = %+v", got)
	}
}

func TestRemotePersists(t *testing.T) {
	d := localDriver(t)
	r := &remoteDriver{user: &models.User{ID: "u1"}}
	sel := storage.NewSelector(d)
	_ = sel.Promote(r)
	m := New(sel, WithLogger(quietLogger()))

	m.Log(context.Background(), "one", models.KindSave)
	m.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logged) != 1 || r.logged[0].Text != "one" {
		t.Errorf("logged = %+v", r.logged)
	}
}

func TestFilter(t *testing.T) {
	m := New(storage.NewSelector(localDriver(t)), WithLogger(quietLogger()))
	ctx := context.Background()
	m.Log(ctx, "a", models.KindTab)
	m.Log(ctx, "b", models.KindSave)
	m.Log(ctx, "c", models.KindTab)

	if err := m.SetFilter("tab"); err != nil {
		t.Fatal(err)
	}
	if got := m.Filtered(); len(got) != 2 || got[0].Text != "c" || got[1].Text != "a" {
		t.Errorf("filtered = %+v", got)
	}
	if err := m.SetFilter("bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if m.Filter() != "tab" {
		t.Errorf("filter = %q", m.Filter())
	}
	_ = m.SetFilter("")
	if len(m.Filtered()) != 3 {
		t.Errorf("all = %+v", m.Filtered())
	}
}

func TestExportJSON(t *testing.T) {
	m := New(storage.NewSelector(localDriver(t)), WithLogger(quietLogger()), WithNow(fixedNow))
	m.Log(context.Background(), "x", models.KindExport)
	var buf bytes.Buffer
	if err := m.ExportJSON(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	var got []models.ActivityItem
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "x" || got[0].Timestamp != 1700000000000 {
		t.Errorf("export = %+v", got)
	}
	if items := m.Items(); len(items) != 2 || items[0].Text != "Exported activity history as JSON" {
		t.Errorf("items = %+v", items)
	}
}
