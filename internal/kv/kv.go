// Package kv provides the key/value engines behind the local driver.
//
// A Store holds small documents under fixed keys, the way a browser's
// localStorage does. Two engines exist: FS keeps one file per key and
// Bolt keeps every key in a single bbolt bucket.
package kv

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned by Set when a value would exceed the quota.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")

// Engine names accepted by Open.
const (
	EngineFile = "file"
	EngineBolt = "bolt"
)

// Store is a flat key/value store for JSON documents.
type Store interface {
	// Get returns the value stored under key, or nil when absent.
	Get(key string) ([]byte, error)
	// Set replaces the value stored under key.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Close releases the engine.
	Close() error
}

// Open opens the engine named engine rooted at path.
// quota limits the total size of stored values in bytes; 0 disables it.
func Open(engine, path string, quota int64) (Store, error) {
	switch engine {
	case "", EngineFile:
		return NewFS(path, quota)
	case EngineBolt:
		return OpenBolt(path, quota)
	default:
		return nil, fmt.Errorf("kv: unknown engine %q", engine)
	}
}

// quotaCheck reports ErrQuotaExceeded when replacing old with next would
// push used past quota.
func quotaCheck(quota, used int64, old, next int) error {
	if quota <= 0 {
		return nil
	}
	if used-int64(old)+int64(next) > quota {
		return fmt.Errorf("%w: %d bytes allowed", ErrQuotaExceeded, quota)
	}
	return nil
}
