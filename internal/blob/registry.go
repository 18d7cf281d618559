// Package blob keeps session-scoped attachment references.
//
// A reference lives in memory only; it disappears when revoked or when the
// process exits. Entries that point at a reference keep their metadata
// after a restart but their URL stops resolving.
package blob

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// URLPrefix is the path under which references are served.
const URLPrefix = "/blob/"

// ErrRevoked is returned when a reference no longer exists.
var ErrRevoked = errors.New("blob: reference revoked")

// Object is one registered reference.
type Object struct {
	ID       string
	Name     string
	MimeType string
	Data     []byte
	Created  time.Time
}

// Registry owns every live reference of the process.
type Registry struct {
	maxBytes int64

	mu      sync.Mutex
	objects map[string]*Object
	timers  map[string]*time.Timer
	size    int64
}

// NewRegistry creates a registry holding at most maxBytes of data; 0 means
// unbounded.
func NewRegistry(maxBytes int64) *Registry {
	return &Registry{
		maxBytes: maxBytes,
		objects:  make(map[string]*Object),
		timers:   make(map[string]*time.Timer),
	}
}

// Create reads r fully and registers it, returning the reference URL.
func (r *Registry) Create(name, mimeType string, body io.Reader) (*Object, string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("blob: read: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxBytes > 0 && r.size+int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("blob: registry full (%d bytes)", r.maxBytes)
	}
	obj := &Object{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Data:     data,
		Created:  time.Now(),
	}
	r.objects[obj.ID] = obj
	r.size += int64(len(data))
	return obj, URL(obj.ID), nil
}

// URL returns the reference URL for id.
func URL(id string) string {
	return URLPrefix + id
}

// IDFromURL extracts the id of a reference URL; ok is false for other URLs.
func IDFromURL(u string) (string, bool) {
	if len(u) <= len(URLPrefix) || u[:len(URLPrefix)] != URLPrefix {
		return "", false
	}
	return u[len(URLPrefix):], true
}

// Lookup returns the live object for id.
func (r *Registry) Lookup(id string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	if !ok {
		return nil, ErrRevoked
	}
	return obj, nil
}

// Live reports whether the reference URL u still resolves.
func (r *Registry) Live(u string) bool {
	id, ok := IDFromURL(u)
	if !ok {
		return false
	}
	_, err := r.Lookup(id)
	return err == nil
}

// Revoke releases id immediately. Revoking twice is harmless.
func (r *Registry) Revoke(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokeLocked(id)
}

func (r *Registry) revokeLocked(id string) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	if obj, ok := r.objects[id]; ok {
		r.size -= int64(len(obj.Data))
		delete(r.objects, id)
	}
}

// RevokeAfter schedules the release of id once d has elapsed, giving slow
// readers time to finish. A later call replaces an earlier schedule.
func (r *Registry) RevokeAfter(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return
	}
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(d, func() { r.Revoke(id) })
}

// Len returns the number of live references.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// Close revokes every reference and cancels pending releases.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.objects {
		r.revokeLocked(id)
	}
}
