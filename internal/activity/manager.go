// Package activity keeps the session's activity log. The in-memory log is
// the source of truth; the remote backend gets a best-effort copy.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage"
)

// FilterAll disables kind filtering.
const FilterAll = "all"

// ExportFile is the conventional name of an activity export.
const ExportFile = "timedline-activity.json"

const sessionStarted = "Session started"

// Mirror is the local copy of the whole log. The local driver satisfies it.
type Mirror interface {
	ListActivity(ctx context.Context) ([]models.ActivityItem, error)
	ReplaceActivity(ctx context.Context, items []models.ActivityItem) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithMirror keeps a full copy of the log in m.
func WithMirror(m Mirror) Option {
	return func(mgr *Manager) { mgr.mirror = m }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithErrorHandler receives remote persistence failures. The default logs them.
func WithErrorHandler(fn func(item models.ActivityItem, err error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithOnLog registers fn to observe every recorded item.
func WithOnLog(fn func(models.ActivityItem)) Option {
	return func(m *Manager) { m.onLog = append(m.onLog, fn) }
}

// Manager is the activity log manager.
type Manager struct {
	sel     *storage.Selector
	mirror  Mirror
	logger  *slog.Logger
	onError func(models.ActivityItem, error)
	onLog   []func(models.ActivityItem)
	now     func() time.Time

	mu     sync.RWMutex
	items  []models.ActivityItem
	paused bool
	filter string

	// mirrorHeld is set while the mirror could not be read; it is not
	// written until a later Load reads it again.
	mirrorHeld bool

	pending sync.WaitGroup
}

// New creates a manager. Call Load to populate it.
func New(sel *storage.Selector, opts ...Option) *Manager {
	m := &Manager{
		sel:    sel,
		logger: slog.Default(),
		now:    time.Now,
		items:  []models.ActivityItem{},
		filter: FilterAll,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.onError == nil {
		m.onError = func(item models.ActivityItem, err error) {
			m.logger.Error("activity: persist failed",
				slog.String("text", item.Text), slog.String("error", err.Error()))
		}
	}
	return m
}

// Load fills the log: from the remote backend when it is active and
// someone is signed in, else from the mirror, else with a single
// "Session started" item.
func (m *Manager) Load(ctx context.Context) error {
	b := m.sel.Current()
	if b.Remote() {
		u, err := b.Driver.CurrentUser(ctx)
		if err == nil && u != nil && !u.IsLocal() {
			items, err := b.Driver.ListActivity(ctx)
			if err == nil {
				m.replace(ctx, items)
				return nil
			}
			m.logger.Error("activity: list remote activity failed", slog.String("error", err.Error()))
		}
	}

	seed := []models.ActivityItem{{
		Timestamp: m.now().UnixMilli(),
		Kind:      models.KindSession,
		Text:      sessionStarted,
	}}
	if m.mirror != nil {
		items, err := m.mirror.ListActivity(ctx)
		switch {
		case err != nil:
			m.logger.Warn("activity: read mirror failed, not writing it", slog.String("error", err.Error()))
			m.mu.Lock()
			m.items = seed
			m.mirrorHeld = true
			m.mu.Unlock()
			return nil
		case len(items) > 0:
			m.replace(ctx, items)
			return nil
		}
	}

	m.replace(ctx, seed)
	return nil
}

func (m *Manager) replace(ctx context.Context, items []models.ActivityItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]models.ActivityItem{}, items...)
	m.mirrorHeld = false
	m.writeMirrorLocked(ctx)
}

// Log records text. It does nothing while the log is paused.
func (m *Manager) Log(ctx context.Context, text string, kind models.ActivityKind) {
	if kind == "" {
		kind = models.KindMisc
	}
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	item := models.ActivityItem{Timestamp: m.now().UnixMilli(), Kind: kind, Text: text}
	m.items = append([]models.ActivityItem{item}, m.items...)
	m.writeMirrorLocked(ctx)
	m.mu.Unlock()

	if b := m.sel.Current(); b.Remote() {
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			if err := b.Driver.LogActivity(context.WithoutCancel(ctx), item); err != nil {
				m.onError(item, err)
			}
		}()
	}

	for _, fn := range m.onLog {
		fn(item)
	}
}

// writeMirrorLocked runs under m.mu so mirror writes land in log order.
func (m *Manager) writeMirrorLocked(ctx context.Context) {
	if m.mirror == nil || m.mirrorHeld {
		return
	}
	if err := m.mirror.ReplaceActivity(ctx, m.items); err != nil {
		m.logger.Warn("activity: write mirror failed", slog.String("error", err.Error()))
	}
}

// Wait blocks until every in-flight remote write has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// SetPaused toggles recording. Pausing is not persisted.
func (m *Manager) SetPaused(p bool) {
	m.mu.Lock()
	m.paused = p
	m.mu.Unlock()
}

// Paused reports whether recording is paused.
func (m *Manager) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// SetFilter restricts Filtered to one kind, or to everything with FilterAll.
func (m *Manager) SetFilter(f string) error {
	if f == "" {
		f = FilterAll
	}
	if f != FilterAll {
		if _, err := models.ParseActivityKind(f); err != nil {
			return fmt.Errorf("activity: %w", err)
		}
	}
	m.mu.Lock()
	m.filter = f
	m.mu.Unlock()
	return nil
}

// Filter returns the active filter.
func (m *Manager) Filter() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// Items returns the whole log, newest first.
func (m *Manager) Items() []models.ActivityItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ActivityItem{}, m.items...)
}

// Filtered returns the items matching the active filter.
func (m *Manager) Filtered() []models.ActivityItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ActivityItem{}
	for _, it := range m.items {
		if m.filter == FilterAll || string(it.Kind) == m.filter {
			out = append(out, it)
		}
	}
	return out
}

// ExportJSON writes the whole log as a pretty-printed JSON array, then
// records the export.
func (m *Manager) ExportJSON(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Items()); err != nil {
		return fmt.Errorf("activity: export: %w", err)
	}
	m.Log(ctx, "Exported activity history as JSON", models.KindExport)
	return nil
}
