// Package checksum fingerprints stored documents so a store can tell its
// own writes apart from outside edits.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data hashes to sum.
func Matches(data []byte, sum string) bool {
	return subtle.ConstantTimeCompare([]byte(Sum(data)), []byte(sum)) == 1
}

// Ledger remembers the digest of the last document written under each key.
// It is safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	sums map[string]string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sums: make(map[string]string)}
}

// Record stores the digest of data as the latest write of key.
func (l *Ledger) Record(key string, data []byte) {
	sum := Sum(data)
	l.mu.Lock()
	l.sums[key] = sum
	l.mu.Unlock()
}

// Forget drops key, e.g. after it was deleted.
func (l *Ledger) Forget(key string) {
	l.mu.Lock()
	delete(l.sums, key)
	l.mu.Unlock()
}

// Seen reports whether data is exactly the last recorded write of key.
func (l *Ledger) Seen(key string, data []byte) bool {
	l.mu.Lock()
	sum, ok := l.sums[key]
	l.mu.Unlock()
	return ok && Matches(data, sum)
}
