package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/objstore"
	"github.com/starford/timedline/internal/storage"
	"github.com/starford/timedline/internal/testutil"
	"github.com/starford/timedline/internal/vault"
)

func quietLogger() *slog.Logger { return testutil.Logger() }

func localConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Local.Path = t.TempDir()
	return cfg
}

func remoteConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := localConfig(t)
	cfg.Storage.Driver = storage.DriverRemote
	cfg.Remote.Database.DSN = filepath.Join(dir, "remote.db")
	cfg.Remote.Objects.Root = filepath.Join(dir, "objects")
	cfg.Remote.Session.JWTSecret = "test-secret"
	return cfg
}

func TestComponentsStartLocal(t *testing.T) {
	ctx := context.Background()
	c, err := newComponents(ctx, localConfig(t), quietLogger(), nil)
	if err != nil {
		t.Fatalf("newComponents: %v", err)
	}
	defer c.Close()

	if c.sel.IsRemote() || c.auth != nil {
		t.Fatal("local config should not open the remote backend")
	}
	if err := c.promote(); err != nil {
		t.Fatalf("promote without remote: %v", err)
	}
	if c.sel.Current().Generation != 1 {
		t.Errorf("generation = %d, want 1", c.sel.Current().Generation)
	}
	if _, err := c.vault.Save(ctx, vault.Draft{Text: "hello"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := c.activity.Items()[0].Text; got != `Logged new entry: "hello"` {
		t.Errorf("activity = %q", got)
	}
}

func TestComponentsRemoteInitFailureStaysLocal(t *testing.T) {
	tests := []struct {
		name  string
		spoil func(t *testing.T, cfg *Config)
	}{
		{"database directory missing", func(t *testing.T, cfg *Config) {
			cfg.Remote.Database.DSN = filepath.Join(t.TempDir(), "missing", "remote.db")
		}},
		{"object root is a file", func(t *testing.T, cfg *Config) {
			blocker := filepath.Join(t.TempDir(), "blocker")
			if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg.Remote.Objects.Root = filepath.Join(blocker, "objects")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := remoteConfig(t)
			tt.spoil(t, cfg)
			ctx := context.Background()

			c, err := newComponents(ctx, cfg, quietLogger(), nil)
			if err != nil {
				t.Fatalf("newComponents: %v", err)
			}
			defer c.Close()

			if c.remote != nil || c.rows != nil || c.auth != nil {
				t.Fatal("failed remote init left remote components open")
			}
			if err := c.promote(); err != nil {
				t.Fatalf("promote: %v", err)
			}
			if got := c.sel.Current().Driver.Name(); got != storage.DriverLocal {
				t.Errorf("driver = %q, want local", got)
			}
			if _, err := c.vault.Save(ctx, vault.Draft{Text: "still journaling"}); err != nil {
				t.Errorf("Save on local fallback: %v", err)
			}
		})
	}
}

func TestComponentsIncompleteRemoteStaysLocal(t *testing.T) {
	cfg := remoteConfig(t)
	cfg.Remote.Session.JWTSecret = ""
	c, err := newComponents(context.Background(), cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("newComponents: %v", err)
	}
	defer c.Close()
	if c.remote != nil {
		t.Error("incomplete remote section should not open the remote driver")
	}
}

func TestComponentsRemoteLifecycle(t *testing.T) {
	ctx := context.Background()
	c, err := newComponents(ctx, remoteConfig(t), quietLogger(), nil)
	if err != nil {
		t.Fatalf("newComponents: %v", err)
	}
	defer c.Close()

	if c.sel.IsRemote() {
		t.Fatal("remote must not be active before promotion")
	}
	if err := c.promote(); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !c.sel.IsRemote() || c.sel.Current().Generation != 2 {
		t.Fatalf("binding = %s/%d", c.sel.Current().Driver.Name(), c.sel.Current().Generation)
	}
	if c.vault.Len() != 0 {
		t.Errorf("signed-out remote vault should be empty, got %d", c.vault.Len())
	}

	if _, err := c.vault.Save(ctx, vault.Draft{Text: "nobody"}); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("anonymous save err = %v, want ErrNotAuthenticated", err)
	}

	token, err := c.auth.Issue("user-1", "a@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.auth.SetToken(ctx, token); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	if _, err := c.vault.Save(ctx, vault.Draft{Text: "remote entry"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	e, err := c.vault.Save(ctx, vault.Draft{File: &storage.File{
		Name: "note.txt", MimeType: "text/plain", Size: 2, Body: strings.NewReader("hi"),
	}})
	if err != nil {
		t.Fatalf("Save with file: %v", err)
	}
	if e.Attachment == nil || e.Attachment.StorageKey == "" {
		t.Fatalf("attachment = %+v", e.Attachment)
	}

	got, ok := c.vault.Get(e.Timestamp)
	if !ok || got.Attachment == nil || !strings.HasPrefix(got.Attachment.URL, objstore.SignedPrefix) {
		t.Fatalf("listed attachment = %+v", got.Attachment)
	}

	rows, err := c.rows.ListEntries(ctx, "user-1")
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows = %d, %v", len(rows), err)
	}

	c.activity.Wait()
	items, err := c.rows.ListActivity(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	var saves int
	for _, it := range items {
		if it.Kind == models.KindSave {
			saves++
		}
	}
	if saves != 2 {
		t.Errorf("persisted save items = %d, want 2", saves)
	}
}

func TestImportThenExport(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)
	opts := []Option{WithConfig(cfg), WithLogOutput(io.Discard)}

	doc := `[{"timestamp": 1700000000000, "date": "2023-11-14", "content": "kept"},
	         {"timestamp": "bad", "date": "2023-11-14", "content": "skipped"}]`
	res, err := Import(ctx, strings.NewReader(doc), opts...)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Created != 1 || res.Malformed != 1 {
		t.Errorf("import result = %+v", res)
	}

	var buf bytes.Buffer
	if err := Export(ctx, FormatJSON, &buf, opts...); err != nil {
		t.Fatalf("Export: %v", err)
	}
	var entries []models.Entry
	if err := json.Unmarshal(buf.Bytes(), &entries); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "kept" {
		t.Errorf("exported = %+v", entries)
	}

	if err := Export(ctx, "xml", io.Discard, opts...); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestIssueToken(t *testing.T) {
	cfg := localConfig(t)
	if _, err := IssueToken("u", "", time.Hour, WithConfig(cfg), WithLogOutput(io.Discard)); err == nil {
		t.Error("expected error without a jwt secret")
	}
	cfg.Remote.Session.JWTSecret = "s"
	token, err := IssueToken("u", "", time.Hour, WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil || token == "" {
		t.Fatalf("IssueToken = %q, %v", token, err)
	}
}
