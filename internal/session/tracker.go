package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/models"
)

// ActivityLogger records user actions.
type ActivityLogger interface {
	Log(ctx context.Context, text string, kind models.ActivityKind)
}

// Tracker follows the active tab and logs how long each one was open.
type Tracker struct {
	store    *Store
	activity ActivityLogger
	now      func() time.Time

	mu    sync.Mutex
	tab   string
	since time.Time
}

// NewTracker starts tracking from the stored active tab.
func NewTracker(store *Store, activity ActivityLogger, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:    store,
		activity: activity,
		now:      now,
		tab:      store.Load().ActiveTab,
		since:    now(),
	}
}

// Active returns the current tab.
func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tab
}

// Switch makes tab active. It logs the time spent on the previous tab and
// the switch itself, then persists the choice.
func (t *Tracker) Switch(ctx context.Context, tab string) error {
	if !ValidTab(tab) {
		return &apperr.Error{Kind: apperr.ErrValidation, Message: fmt.Sprintf("unknown tab %q", tab)}
	}

	t.mu.Lock()
	now := t.now()
	prev, spent := t.tab, now.Sub(t.since)
	t.tab, t.since = tab, now
	t.mu.Unlock()

	if t.activity != nil {
		t.activity.Log(ctx, fmt.Sprintf("Stayed on %s for %s", prev, FormatDuration(spent)), models.KindDuration)
		t.activity.Log(ctx, fmt.Sprintf("Switched to %s tab", tab), models.KindTab)
	}
	return t.store.Save(Preferences{ActiveTab: tab})
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
// Negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	s := int64(max(0, d/time.Second))
	h, m, sec := s/3600, (s/60)%60, s%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case s >= 60:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
