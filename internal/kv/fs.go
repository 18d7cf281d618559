package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starford/timedline/internal/checksum"
)

const fileExt = ".json"

// FS implements Store with one JSON file per key under a root directory.
type FS struct {
	root  string // absolute path to the data directory
	quota int64

	mu      sync.Mutex // serializes writes and deletes
	written *checksum.Ledger
}

// NewFS creates a file engine rooted at root, creating the directory if needed.
func NewFS(root string, quota int64) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("kv: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("kv: mkdir root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("kv: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("kv: root is not a directory: %s", abs)
	}
	return &FS{root: abs, quota: quota, written: checksum.NewLedger()}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string { return f.root }

// keyPath maps a key to its file, rejecting keys that are not plain names.
func (f *FS) keyPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("kv: empty key")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("kv: invalid key: %s", key)
	}
	return filepath.Join(f.root, key+fileExt), nil
}

// keyOf is the inverse of keyPath; ok is false for foreign files.
func (f *FS) keyOf(abs string) (string, bool) {
	if filepath.Dir(abs) != f.root || !strings.HasSuffix(abs, fileExt) {
		return "", false
	}
	name := strings.TrimSuffix(filepath.Base(abs), fileExt)
	if name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}
	return name, true
}

// Get returns the stored document or nil when the key is absent.
func (f *FS) Get(key string) ([]byte, error) {
	p, err := f.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: read %s: %w", key, err)
	}
	return data, nil
}

// Set atomically writes value: tmp file, fsync, rename.
func (f *FS) Set(key string, value []byte) error {
	p, err := f.keyPath(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.quota > 0 {
		used, old, err := f.usage(p)
		if err != nil {
			return err
		}
		if err := quotaCheck(f.quota, used, old, len(value)); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(f.root, ".timedline-tmp-*")
	if err != nil {
		return fmt.Errorf("kv: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(value); err != nil {
		return fmt.Errorf("kv: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("kv: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kv: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("kv: rename: %w", err)
	}
	success = true
	f.written.Record(key, value)
	return nil
}

// Delete removes the file for key.
func (f *FS) Delete(key string) error {
	p, err := f.keyPath(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	f.written.Forget(key)
	return nil
}

// Close is a no-op for the file engine.
func (f *FS) Close() error { return nil }

// ownWrite reports whether data is exactly what this process last wrote
// under key.
func (f *FS) ownWrite(key string, data []byte) bool {
	return f.written.Seen(key, data)
}

// usage returns the bytes used by all documents and by the one at p.
func (f *FS) usage(p string) (used int64, current int, err error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, 0, fmt.Errorf("kv: usage: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
		if filepath.Join(f.root, e.Name()) == p {
			current = int(info.Size())
		}
	}
	return used, current, nil
}
