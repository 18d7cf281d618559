// Package vault holds the in-memory entry list of the active driver and
// implements every user-facing entry operation on top of it.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

const (
	previewRunes    = 40
	fileOnlyContent = "(file)"
	defaultMimeType = "application/octet-stream"
)

// ActivityLogger records user actions. *activity.Manager satisfies it.
type ActivityLogger interface {
	Log(ctx context.Context, text string, kind models.ActivityKind)
}

// Change kinds passed to change listeners.
const (
	ChangeCreated  = "created"
	ChangeDeleted  = "deleted"
	ChangeReloaded = "reloaded"
)

// Change describes one mutation of the in-memory list.
type Change struct {
	Kind      string
	Timestamp int64
	Count     int
}

// Draft is the input of Save. At least one of Text or File must be set.
type Draft struct {
	Text string
	File *storage.File
}

// Option configures a Manager.
type Option func(*Manager)

// WithActivity routes activity messages to l.
func WithActivity(l ActivityLogger) Option {
	return func(m *Manager) { m.activity = l }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(c *Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLocation sets the zone used for entry dates.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) { m.loc = loc }
}

// WithOnChange registers fn to observe list mutations.
func WithOnChange(fn func(Change)) Option {
	return func(m *Manager) { m.onChange = append(m.onChange, fn) }
}

// Manager is the vault state manager.
type Manager struct {
	sel      *storage.Selector
	activity ActivityLogger
	logger   *slog.Logger
	clock    *Clock
	loc      *time.Location
	onChange []func(Change)

	mu      sync.RWMutex
	entries []models.Entry
	gen     uint64
}

// New creates a manager over sel. Call Load to populate it.
func New(sel *storage.Selector, opts ...Option) *Manager {
	m := &Manager{
		sel:     sel,
		logger:  slog.Default(),
		clock:   NewClock(nil),
		loc:     time.Local,
		entries: []models.Entry{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the in-memory list with the active driver's list.
// On failure the current list is kept.
func (m *Manager) Load(ctx context.Context) error {
	b := m.sel.Current()
	list, err := b.Driver.ListEntries(ctx)
	if err != nil {
		m.logger.Error("vault: load entries failed",
			slog.String("driver", b.Driver.Name()), slog.String("error", err.Error()))
		return fmt.Errorf("vault: load: %w", err)
	}
	if !m.apply(b, func() { m.entries = list }) {
		return nil
	}
	m.notify(Change{Kind: ChangeReloaded, Count: len(list)})
	return nil
}

// apply runs fn under the write lock if b is still the active binding and
// records b as the source of the list. It reports whether fn ran.
func (m *Manager) apply(b storage.Binding, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sel.Current().Generation != b.Generation {
		m.logger.Debug("vault: discarding result of superseded driver",
			slog.Uint64("generation", b.Generation))
		return false
	}
	fn()
	m.gen = b.Generation
	return true
}

// Save uploads the draft's file (if any), creates the entry and refreshes
// the list from the driver.
func (m *Manager) Save(ctx context.Context, d Draft) (models.Entry, error) {
	text := strings.TrimSpace(d.Text)
	if text == "" && d.File == nil {
		return models.Entry{}, apperr.ErrEmptyEntry
	}

	b := m.sel.Current()
	var att *models.Attachment
	if d.File != nil {
		uploaded, err := b.Driver.UploadFile(ctx, *d.File)
		if err != nil {
			m.logger.Error("vault: upload failed", slog.String("file", d.File.Name), slog.String("error", err.Error()))
			if errors.Is(err, apperr.ErrNotAuthenticated) {
				return models.Entry{}, err
			}
			return models.Entry{}, apperr.Wrap(apperr.ErrUploadFailed, err)
		}
		att = uploaded.Clone()
		if att.Name == "" {
			att.Name = d.File.Name
		}
		if att.MimeType == "" {
			att.MimeType = d.File.MimeType
		}
		if att.MimeType == "" {
			att.MimeType = defaultMimeType
		}
	}

	at := m.clock.Next()
	e := models.Entry{
		Timestamp:  at.UnixMilli(),
		Date:       at.In(m.loc).Format(models.DateLayout),
		Content:    contentFor(text, d.File),
		Attachment: att,
	}
	if err := b.Driver.CreateEntry(ctx, e); err != nil {
		m.logger.Error("vault: create entry failed", slog.Int64("timestamp", e.Timestamp), slog.String("error", err.Error()))
		m.discardUpload(ctx, b, att)
		if errors.Is(err, apperr.ErrNotAuthenticated) {
			return models.Entry{}, err
		}
		return models.Entry{}, apperr.Wrap(apperr.ErrCreateFailed, err)
	}

	// Remote URLs are only valid once resolved by a list, so the stored
	// list replaces the optimistic one whenever it can be fetched.
	fresh, listErr := b.Driver.ListEntries(ctx)
	m.apply(b, func() {
		if listErr != nil {
			m.logger.Warn("vault: refresh after save failed, keeping optimistic entry",
				slog.String("error", listErr.Error()))
			m.entries = append([]models.Entry{e}, m.entries...)
			return
		}
		m.entries = fresh
	})

	m.logActivity(ctx, `Logged new entry: "`+preview(text, d.File)+`"`, models.KindSave)
	m.notify(Change{Kind: ChangeCreated, Timestamp: e.Timestamp})
	return e, nil
}

// discardUpload drops the file of an entry that was never created.
// Failure only leaves an orphan behind, so it is logged.
func (m *Manager) discardUpload(ctx context.Context, b storage.Binding, att *models.Attachment) {
	if att == nil {
		return
	}
	dd, ok := b.Driver.(storage.UploadDiscarder)
	if !ok {
		return
	}
	if err := dd.DiscardUpload(context.WithoutCancel(ctx), *att); err != nil {
		m.logger.Warn("vault: discard orphaned upload failed",
			slog.String("file", att.Name), slog.String("error", err.Error()))
	}
}

func contentFor(text string, f *storage.File) string {
	switch {
	case text != "":
		return text
	case f != nil && f.Name != "":
		return f.Name
	default:
		return fileOnlyContent
	}
}

func preview(text string, f *storage.File) string {
	s := text
	if s == "" && f != nil {
		s = f.Name
	}
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:previewRunes]) + "…"
}

// Delete removes the entry with timestamp ts from the driver, then from
// memory. On error the in-memory list is unchanged.
func (m *Manager) Delete(ctx context.Context, ts int64) (models.Entry, error) {
	e, ok := m.Get(ts)
	if !ok {
		return models.Entry{}, apperr.ErrNotFound
	}
	var key string
	if e.Attachment != nil {
		key = e.Attachment.StorageKey
	}

	b := m.sel.Current()
	if err := b.Driver.DeleteEntry(ctx, ts, key); err != nil {
		m.logger.Error("vault: delete entry failed", slog.Int64("timestamp", ts), slog.String("error", err.Error()))
		if errors.Is(err, apperr.ErrNotAuthenticated) {
			return models.Entry{}, err
		}
		return models.Entry{}, apperr.Wrap(apperr.ErrDeleteFailed, err)
	}
	m.apply(b, func() {
		m.entries = slices.DeleteFunc(slices.Clone(m.entries), func(x models.Entry) bool { return x.Timestamp == ts })
	})

	m.logActivity(ctx, "Deleted entry from "+e.Date, models.KindSave)
	m.notify(Change{Kind: ChangeDeleted, Timestamp: ts})
	return e, nil
}

// Get returns the in-memory entry with timestamp ts.
func (m *Manager) Get(ts int64) (models.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Timestamp == ts {
			e.Attachment = e.Attachment.Clone()
			return e, true
		}
	}
	return models.Entry{}, false
}

// Entries returns a copy of the in-memory list, newest first.
func (m *Manager) Entries() []models.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEntries(m.entries)
}

// Generation is the driver generation the in-memory list came from.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Len returns the number of entries in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ResolveAttachment returns a URL for the attachment of entry ts, freshly
// resolved by the active driver.
func (m *Manager) ResolveAttachment(ctx context.Context, ts int64) (string, error) {
	e, ok := m.Get(ts)
	if !ok || e.Attachment == nil {
		return "", apperr.ErrNotFound
	}
	url, err := m.sel.Current().Driver.ResolveAttachment(ctx, *e.Attachment)
	if err != nil {
		m.logger.Warn("vault: resolve attachment failed", slog.Int64("timestamp", ts), slog.String("error", err.Error()))
		return "", apperr.Wrap(apperr.ErrResolution, err)
	}
	m.logActivity(ctx, "Opened attachment "+e.Attachment.Name, models.KindOpen)
	return url, nil
}

func (m *Manager) logActivity(ctx context.Context, text string, kind models.ActivityKind) {
	if m.activity != nil {
		m.activity.Log(ctx, text, kind)
	}
}

func (m *Manager) notify(c Change) {
	for _, fn := range m.onChange {
		fn(c)
	}
}

func cloneEntries(in []models.Entry) []models.Entry {
	out := make([]models.Entry, len(in))
	for i, e := range in {
		e.Attachment = e.Attachment.Clone()
		out[i] = e
	}
	return out
}
