// Package storage defines the vault storage contract and the process-wide
// driver selection.
package storage

import (
	"context"
	"io"

	"github.com/starford/timedline/internal/models"
)

// Driver names.
const (
	DriverLocal  = "local"
	DriverRemote = "remote"
)

// File is the raw input of an upload.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Driver is the contract every storage backend satisfies. Every method may
// fail and reports failures through its error; nothing is swallowed here.
type Driver interface {
	// Name identifies the backend ("local" or "remote").
	Name() string
	// CurrentUser returns the acting identity, or nil when unauthenticated.
	CurrentUser(ctx context.Context) (*models.User, error)
	// UploadFile stores f and returns a descriptor that can later be resolved.
	UploadFile(ctx context.Context, f File) (*models.Attachment, error)
	// CreateEntry persists one entry.
	CreateEntry(ctx context.Context, e models.Entry) error
	// ListEntries returns every entry, newest first. Never nil.
	ListEntries(ctx context.Context) ([]models.Entry, error)
	// DeleteEntry removes the entry with timestamp ts. Removing the
	// attachment at attachmentKey is best-effort.
	DeleteEntry(ctx context.Context, ts int64, attachmentKey string) error
	// LogActivity appends one activity item.
	LogActivity(ctx context.Context, item models.ActivityItem) error
	// ListActivity returns the activity log, newest first. Never nil.
	ListActivity(ctx context.Context) ([]models.ActivityItem, error)
	// ResolveAttachment returns a short-lived fetchable URL for a.
	ResolveAttachment(ctx context.Context, a models.Attachment) (string, error)
}

// UploadDiscarder is implemented by drivers that can drop an uploaded file
// whose entry was never created.
type UploadDiscarder interface {
	DiscardUpload(ctx context.Context, a models.Attachment) error
}
