// Package session holds per-session UI state: the persisted active tab and
// the tab-duration tracker that feeds the activity log.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/kv"
)

// KeyPreferences is the kv key of the preferences document.
const KeyPreferences = "timedline.ui.v1"

// Tabs.
const (
	TabLog     = "log"
	TabSearch  = "search"
	TabArchive = "archive"
)

// DefaultTab is used when nothing valid is stored.
const DefaultTab = TabLog

// ValidTab reports whether tab names a known tab.
func ValidTab(tab string) bool {
	switch tab {
	case TabLog, TabSearch, TabArchive:
		return true
	}
	return false
}

// Preferences is the persisted UI document.
type Preferences struct {
	ActiveTab string `json:"activeTab"`
}

// Store loads and saves Preferences.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore creates a preferences store over s.
func NewStore(s kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: s, logger: logger}
}

// Load returns the stored preferences. Missing, corrupt or invalid
// documents yield the defaults.
func (s *Store) Load() Preferences {
	def := Preferences{ActiveTab: DefaultTab}
	data, err := s.kv.Get(KeyPreferences)
	if err != nil {
		s.logger.Warn("session: read preferences failed", slog.String("error", err.Error()))
		return def
	}
	if data == nil {
		return def
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("session: corrupt preferences, using defaults", slog.String("error", err.Error()))
		return def
	}
	if !ValidTab(p.ActiveTab) {
		p.ActiveTab = DefaultTab
	}
	return p
}

// Save validates and persists p.
func (s *Store) Save(p Preferences) error {
	if !ValidTab(p.ActiveTab) {
		return &apperr.Error{Kind: apperr.ErrValidation, Message: fmt.Sprintf("unknown tab %q", p.ActiveTab)}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session: encode preferences: %w", err)
	}
	if err := s.kv.Set(KeyPreferences, data); err != nil {
		return fmt.Errorf("session: save preferences: %w", err)
	}
	return nil
}
