package vault

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

// fakeDriver is an in-memory storage.Driver that counts calls.
type fakeDriver struct {
	name string

	mu        sync.Mutex
	entries   []models.Entry
	calls     map[string]int
	discarded []string

	uploadErr error
	createErr func(e models.Entry) error
	listErr   error
	deleteErr error
	resolve   func(a models.Attachment) (string, error)

	// afterCreate runs once the entry is stored, outside the lock.
	afterCreate func()
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{name: storage.DriverLocal, calls: map[string]int{}}
}

func (f *fakeDriver) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) CurrentUser(context.Context) (*models.User, error) {
	return &models.User{ID: models.LocalUserID}, nil
}

func (f *fakeDriver) UploadFile(_ context.Context, file storage.File) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["upload"]++
	if f.uploadErr != nil {
		return nil, apperr.Wrap(apperr.ErrUploadFailed, f.uploadErr)
	}
	_, _ = io.Copy(io.Discard, file.Body)
	return &models.Attachment{StorageKey: "k/" + file.Name, Name: file.Name, MimeType: file.MimeType, URL: "/blob/" + file.Name}, nil
}

func (f *fakeDriver) CreateEntry(_ context.Context, e models.Entry) error {
	f.mu.Lock()
	f.calls["create"]++
	if f.createErr != nil {
		if err := f.createErr(e); err != nil {
			f.mu.Unlock()
			return apperr.Wrap(apperr.ErrCreateFailed, err)
		}
	}
	e.Attachment = e.Attachment.Clone()
	f.entries = append(f.entries, e)
	hook := f.afterCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeDriver) DiscardUpload(_ context.Context, a models.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, a.StorageKey)
	return nil
}

func (f *fakeDriver) ListEntries(context.Context) ([]models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := cloneEntries(f.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

func (f *fakeDriver) DeleteEntry(_ context.Context, ts int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return apperr.Wrap(apperr.ErrDeleteFailed, f.deleteErr)
	}
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.Timestamp != ts {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeDriver) LogActivity(context.Context, models.ActivityItem) error { return nil }

func (f *fakeDriver) ListActivity(context.Context) ([]models.ActivityItem, error) {
	return []models.ActivityItem{}, nil
}

func (f *fakeDriver) ResolveAttachment(_ context.Context, a models.Attachment) (string, error) {
	if f.resolve != nil {
		return f.resolve(a)
	}
	return a.URL, nil
}

// recorder captures activity messages.
type recorder struct {
	mu    sync.Mutex
	items []models.ActivityItem
}

func (r *recorder) Log(_ context.Context, text string, kind models.ActivityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, models.ActivityItem{Kind: kind, Text: text})
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	for i, it := range r.items {
		out[i] = it.Text
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
