// Package local implements the storage contract on a local key/value store.
//
// The whole entry list lives in one JSON document, as does the activity
// log. Attachments never leave the process: their bytes are held as
// session-scoped blob references.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/blob"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

// Fixed document keys.
const (
	KeyEntries  = "timedline.entries.v1"
	KeyActivity = "timedline.activity.v1"
)

const (
	defaultMimeType = "application/octet-stream"
	releaseGrace    = 10 * time.Second
)

// Driver is the local implementation of storage.Driver.
type Driver struct {
	kv     kv.Store
	blobs  *blob.Registry
	logger *slog.Logger

	mu sync.Mutex // serialises read-modify-write of the documents
}

var (
	_ storage.Driver          = (*Driver)(nil)
	_ storage.UploadDiscarder = (*Driver)(nil)
)

// New creates a local driver over store, keeping attachments in blobs.
func New(store kv.Store, blobs *blob.Registry, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{kv: store, blobs: blobs, logger: logger}
}

// Name implements storage.Driver.
func (d *Driver) Name() string { return storage.DriverLocal }

// CurrentUser always returns the local sentinel identity.
func (d *Driver) CurrentUser(context.Context) (*models.User, error) {
	return &models.User{ID: models.LocalUserID}, nil
}

// UploadFile registers the file as a session-scoped reference. Nothing is
// persisted; the URL stops resolving when the process exits.
func (d *Driver) UploadFile(_ context.Context, f storage.File) (*models.Attachment, error) {
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	_, url, err := d.blobs.Create(f.Name, mimeType, f.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUploadFailed, err)
	}
	return &models.Attachment{Name: f.Name, MimeType: mimeType, URL: url}, nil
}

// CreateEntry prepends e to the entries document.
func (d *Driver) CreateEntry(_ context.Context, e models.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	list, err := d.readEntries()
	if err != nil {
		return apperr.Wrap(apperr.ErrCreateFailed, err)
	}
	cleaned := models.Entry{Timestamp: e.Timestamp, Date: e.Date, Content: e.Content}
	if e.Attachment != nil {
		cleaned.Attachment = &models.Attachment{
			Name:     e.Attachment.Name,
			MimeType: e.Attachment.MimeType,
			URL:      e.Attachment.URL,
		}
	}
	list = append([]models.Entry{cleaned}, list...)
	if err := d.writeJSON(KeyEntries, list); err != nil {
		return apperr.Wrap(apperr.ErrCreateFailed, err)
	}
	return nil
}

// ListEntries returns the stored entries newest first. Attachments whose
// session reference is gone are flagged unavailable.
func (d *Driver) ListEntries(context.Context) ([]models.Entry, error) {
	d.mu.Lock()
	list, err := d.readEntries()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := range list {
		a := list[i].Attachment
		if a == nil || a.URL == "" {
			continue
		}
		if _, isRef := blob.IDFromURL(a.URL); isRef && !d.blobs.Live(a.URL) {
			a.Unavailable = true
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp > list[j].Timestamp })
	return list, nil
}

// DeleteEntry filters ts out of the entries document and schedules the
// release of its attachment reference.
func (d *Driver) DeleteEntry(_ context.Context, ts int64, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	list, err := d.readEntries()
	if err != nil {
		return apperr.Wrap(apperr.ErrDeleteFailed, err)
	}
	kept := list[:0]
	var removed []models.Entry
	for _, e := range list {
		if e.Timestamp == ts {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	if err := d.writeJSON(KeyEntries, kept); err != nil {
		return apperr.Wrap(apperr.ErrDeleteFailed, err)
	}
	for _, e := range removed {
		if e.Attachment == nil {
			continue
		}
		if id, ok := blob.IDFromURL(e.Attachment.URL); ok {
			d.blobs.RevokeAfter(id, releaseGrace)
		}
	}
	return nil
}

// LogActivity prepends item to the activity document.
func (d *Driver) LogActivity(_ context.Context, item models.ActivityItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	list, err := d.readActivity()
	if err != nil {
		return fmt.Errorf("local: log activity: %w", err)
	}
	if err := d.writeJSON(KeyActivity, append([]models.ActivityItem{item}, list...)); err != nil {
		return fmt.Errorf("local: log activity: %w", err)
	}
	return nil
}

// ListActivity returns the activity document.
func (d *Driver) ListActivity(context.Context) ([]models.ActivityItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readActivity()
}

// ReplaceActivity overwrites the activity document with items.
func (d *Driver) ReplaceActivity(_ context.Context, items []models.ActivityItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if items == nil {
		items = []models.ActivityItem{}
	}
	if err := d.writeJSON(KeyActivity, items); err != nil {
		return fmt.Errorf("local: replace activity: %w", err)
	}
	return nil
}

// ResolveAttachment returns the reference URL while it is still live.
func (d *Driver) ResolveAttachment(_ context.Context, a models.Attachment) (string, error) {
	if a.URL == "" {
		return "", apperr.ErrResolution
	}
	if _, isRef := blob.IDFromURL(a.URL); isRef && !d.blobs.Live(a.URL) {
		return "", &apperr.Error{Kind: apperr.ErrResolution, Message: "attachment is no longer available in this session"}
	}
	return a.URL, nil
}

// DiscardUpload releases the session reference of an unused upload.
func (d *Driver) DiscardUpload(_ context.Context, a models.Attachment) error {
	if id, ok := blob.IDFromURL(a.URL); ok {
		d.blobs.Revoke(id)
	}
	return nil
}

func (d *Driver) readEntries() ([]models.Entry, error) {
	return readDoc[[]models.Entry](d, KeyEntries)
}

func (d *Driver) readActivity() ([]models.ActivityItem, error) {
	return readDoc[[]models.ActivityItem](d, KeyActivity)
}

// readDoc decodes the list stored at key. Missing or corrupt documents
// read as an empty list; a failing store is an error, so callers never
// overwrite a document they could not read.
func readDoc[T ~[]E, E any](d *Driver, key string) (T, error) {
	data, err := d.kv.Get(key)
	if err != nil {
		return nil, fmt.Errorf("local: read %s: %w", key, err)
	}
	if data == nil {
		return T{}, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		d.logger.Warn("local: corrupt document treated as absent", slog.String("key", key), slog.String("error", err.Error()))
		return T{}, nil
	}
	if out == nil {
		return T{}, nil
	}
	return out, nil
}

func (d *Driver) writeJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := d.kv.Set(key, data); err != nil {
		if errors.Is(err, kv.ErrQuotaExceeded) {
			return &apperr.Error{Kind: kv.ErrQuotaExceeded, Message: "local storage is full", Err: err}
		}
		return err
	}
	return nil
}
