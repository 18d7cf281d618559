// Package remote implements the storage contract against a hosted backend
// made of an identity source, a row store and an object store.
package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

// Signed URL lifetimes. List views resolve every attachment with ListTTL;
// opening a single attachment resolves it with OpenTTL.
const (
	ListTTL = time.Hour
	OpenTTL = time.Minute
)

const defaultMimeType = "application/octet-stream"

var unsafeNameRe = regexp.MustCompile(`[^\w.\-]`)

// Identity reports who is signed in.
type Identity interface {
	// CurrentUser returns nil when nobody is signed in.
	CurrentUser(ctx context.Context) (*models.User, error)
}

// EntryRow is an entry as stored in the row store. It never carries a URL.
type EntryRow struct {
	Timestamp int64
	Date      string
	Content   string
	FilePath  string
	FileName  string
	FileType  string
}

// HasFile reports whether the row references an attachment.
func (r EntryRow) HasFile() bool {
	return r.FilePath != "" || r.FileName != "" || r.FileType != ""
}

// Rows is the row-oriented datastore, always scoped by owner.
type Rows interface {
	InsertEntry(ctx context.Context, userID string, row EntryRow) error
	// ListEntries returns the owner's rows ordered by timestamp descending.
	ListEntries(ctx context.Context, userID string) ([]EntryRow, error)
	DeleteEntry(ctx context.Context, userID string, ts int64) error
	InsertActivity(ctx context.Context, userID string, item models.ActivityItem) error
	// ListActivity returns the owner's items ordered by timestamp descending.
	ListActivity(ctx context.Context, userID string) ([]models.ActivityItem, error)
}

// Objects is the binary object store.
type Objects interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PublicURL(key string) string
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// Option configures a Driver.
type Option func(*Driver)

// WithPublicObjects makes attachments resolve to stable public URLs
// instead of signed ones.
func WithPublicObjects(public bool) Option {
	return func(d *Driver) { d.public = public }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithClock overrides the clock used to build storage keys.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver is the remote implementation of storage.Driver.
type Driver struct {
	identity Identity
	rows     Rows
	objects  Objects
	public   bool
	logger   *slog.Logger
	now      func() time.Time
}

var _ storage.Driver = (*Driver)(nil)

// New creates a remote driver.
func New(identity Identity, rows Rows, objects Objects, opts ...Option) *Driver {
	d := &Driver{
		identity: identity,
		rows:     rows,
		objects:  objects,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements storage.Driver.
func (d *Driver) Name() string { return storage.DriverRemote }

// CurrentUser returns the signed-in user or nil.
func (d *Driver) CurrentUser(ctx context.Context) (*models.User, error) {
	return d.identity.CurrentUser(ctx)
}

// requireUser resolves the user for a write.
func (d *Driver) requireUser(ctx context.Context) (*models.User, error) {
	u, err := d.identity.CurrentUser(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrNotAuthenticated, err)
	}
	if u == nil || u.ID == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	return u, nil
}

// viewer resolves the user for a read; nil means an anonymous view.
func (d *Driver) viewer(ctx context.Context) *models.User {
	u, err := d.identity.CurrentUser(ctx)
	if err != nil || u == nil || u.ID == "" {
		return nil
	}
	return u
}

// ObjectKey namespaces a stored file by owner and upload time.
func ObjectKey(userID string, at time.Time, name string) string {
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%d-%s", userID, at.UnixMilli(), unsafeNameRe.ReplaceAllString(name, "_"))
}

// UploadFile stores f under the user's namespace.
func (d *Driver) UploadFile(ctx context.Context, f storage.File) (*models.Attachment, error) {
	u, err := d.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	key := ObjectKey(u.ID, d.now(), f.Name)
	if err := d.objects.Put(ctx, key, f.Body, f.Size, mimeType); err != nil {
		return nil, apperr.Wrap(apperr.ErrUploadFailed, err)
	}
	return &models.Attachment{StorageKey: key, Name: f.Name, MimeType: mimeType}, nil
}

// CreateEntry inserts one row owned by the current user.
func (d *Driver) CreateEntry(ctx context.Context, e models.Entry) error {
	u, err := d.requireUser(ctx)
	if err != nil {
		return err
	}
	row := EntryRow{Timestamp: e.Timestamp, Date: e.Date, Content: e.Content}
	if a := e.Attachment; a != nil {
		row.FilePath, row.FileName, row.FileType = a.StorageKey, a.Name, a.MimeType
	}
	if err := d.rows.InsertEntry(ctx, u.ID, row); err != nil {
		return apperr.Wrap(apperr.ErrCreateFailed, err)
	}
	return nil
}

// ListEntries queries the user's rows and resolves a fresh URL for every
// attachment. Anonymous viewers get an empty list.
func (d *Driver) ListEntries(ctx context.Context) ([]models.Entry, error) {
	u := d.viewer(ctx)
	if u == nil {
		return []models.Entry{}, nil
	}
	rows, err := d.rows.ListEntries(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("remote: list entries: %w", err)
	}

	out := make([]models.Entry, 0, len(rows))
	for _, r := range rows {
		e := models.Entry{Timestamp: r.Timestamp, Date: r.Date, Content: r.Content}
		if r.HasFile() {
			a := &models.Attachment{StorageKey: r.FilePath, Name: r.FileName, MimeType: r.FileType}
			if r.FilePath != "" {
				url, err := d.resolve(ctx, r.FilePath, ListTTL)
				if err != nil {
					d.logger.Warn("remote: attachment url failed",
						slog.String("path", r.FilePath), slog.String("error", err.Error()))
					a.Unavailable = true
				} else {
					a.URL = url
				}
			}
			e.Attachment = a
		}
		out = append(out, e)
	}
	return out, nil
}

// ResolveAttachment resolves a single attachment for immediate use.
func (d *Driver) ResolveAttachment(ctx context.Context, a models.Attachment) (string, error) {
	if a.StorageKey == "" {
		if a.URL != "" {
			return a.URL, nil
		}
		return "", apperr.ErrResolution
	}
	url, err := d.resolve(ctx, a.StorageKey, OpenTTL)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrResolution, err)
	}
	return url, nil
}

func (d *Driver) resolve(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if d.public {
		return d.objects.PublicURL(key), nil
	}
	return d.objects.SignedURL(ctx, key, ttl)
}

// DeleteEntry removes the stored object first, ignoring its failure, then
// deletes the row, which is the operation of record.
func (d *Driver) DeleteEntry(ctx context.Context, ts int64, attachmentKey string) error {
	u, err := d.requireUser(ctx)
	if err != nil {
		return err
	}
	if attachmentKey != "" {
		if rmErr := d.objects.Remove(ctx, attachmentKey); rmErr != nil {
			d.logger.Warn("remote: storage remove failed",
				slog.String("path", attachmentKey), slog.String("error", rmErr.Error()))
		}
	}
	if err := d.rows.DeleteEntry(ctx, u.ID, ts); err != nil {
		return apperr.Wrap(apperr.ErrDeleteFailed, err)
	}
	return nil
}

// DiscardUpload removes the object of an upload whose row was never
// written.
func (d *Driver) DiscardUpload(ctx context.Context, a models.Attachment) error {
	if a.StorageKey == "" {
		return nil
	}
	if err := d.objects.Remove(ctx, a.StorageKey); err != nil {
		return fmt.Errorf("remote: discard upload: %w", err)
	}
	return nil
}

// LogActivity inserts one activity row.
func (d *Driver) LogActivity(ctx context.Context, item models.ActivityItem) error {
	u, err := d.requireUser(ctx)
	if err != nil {
		return err
	}
	if err := d.rows.InsertActivity(ctx, u.ID, item); err != nil {
		return fmt.Errorf("remote: log activity: %w", err)
	}
	return nil
}

// ListActivity returns the user's activity, or nothing when anonymous.
func (d *Driver) ListActivity(ctx context.Context) ([]models.ActivityItem, error) {
	u := d.viewer(ctx)
	if u == nil {
		return []models.ActivityItem{}, nil
	}
	items, err := d.rows.ListActivity(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("remote: list activity: %w", err)
	}
	if items == nil {
		items = []models.ActivityItem{}
	}
	return items, nil
}
