// Package testutil provides shared test helpers for setting up local storage.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/starford/timedline/internal/blob"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/storage/local"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Store creates a file-engine key/value store in a temp dir.
func Store(t *testing.T) kv.Store {
	t.Helper()
	store, err := kv.NewFS(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// LocalDriver creates a local driver over a temp store with a blob
// registry that is closed when the test ends.
func LocalDriver(t *testing.T) (*local.Driver, kv.Store, *blob.Registry) {
	t.Helper()
	store := Store(t)
	blobs := blob.NewRegistry(0)
	t.Cleanup(blobs.Close)
	return local.New(store, blobs, Logger()), store, blobs
}
