package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/session"
	"github.com/starford/timedline/internal/vault"
)

// CreateEntryRequest is the JSON body for creating a text entry. Entries
// with a file are created with multipart/form-data instead.
type CreateEntryRequest struct {
	Text string `json:"text" example:"Walked to the lake" validate:"required"`
}

// EntryListResponse wraps entry listings.
type EntryListResponse struct {
	Entries []models.Entry `json:"entries" validate:"required"`
	Total   int            `json:"total" example:"42" validate:"required"`
}

// ArchiveResponse is the archive grouped by date.
type ArchiveResponse struct {
	Groups []vault.DateGroup `json:"groups" validate:"required"`
}

// TimelineResponse is the visual timeline layout.
type TimelineResponse struct {
	Now    time.Time             `json:"now"`
	Points []vault.TimelinePoint `json:"points" validate:"required"`
}

// StatusResponse describes the active backend and session.
type StatusResponse struct {
	Driver       string       `json:"driver" example:"local"`
	Generation   uint64       `json:"generation"`
	Remote       bool         `json:"remote"`
	RemoteWanted bool         `json:"remote_wanted"`
	User         *models.User `json:"user"`
	Entries      int          `json:"entries"`
	// EntriesGeneration is the driver generation the entry list came from.
	EntriesGeneration uint64 `json:"entries_generation"`
	ActivityPaused    bool   `json:"activity_paused"`
	ActiveTab         string `json:"active_tab" example:"log"`
}

// ActivityListResponse is the filtered activity log.
type ActivityListResponse struct {
	Items  []models.ActivityItem `json:"items" validate:"required"`
	Filter string                `json:"filter" example:"all"`
	Paused bool                  `json:"paused"`
}

// LogActivityRequest records a client-side action.
type LogActivityRequest struct {
	Text string `json:"text" example:"Searched: \"lake\"" validate:"required"`
	Kind string `json:"kind" example:"search"`
}

// Validate checks the request fields.
func (r LogActivityRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Kind, validation.In(
			string(models.KindTab), string(models.KindDuration), string(models.KindSave),
			string(models.KindSearch), string(models.KindOpen), string(models.KindExport),
			string(models.KindSession), string(models.KindMisc),
		)),
	)
}

// PauseRequest toggles activity recording.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// PreferencesRequest updates the UI preferences.
type PreferencesRequest struct {
	ActiveTab string `json:"activeTab" example:"archive" validate:"required"`
}

// Validate checks the request fields.
func (r PreferencesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ActiveTab, validation.Required,
			validation.In(session.TabLog, session.TabSearch, session.TabArchive)),
	)
}

// SessionRequest hands an access token from the sign-in flow to the service.
type SessionRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// Validate checks the request fields.
func (r SessionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccessToken, validation.Required),
	)
}

// SessionResponse describes the current remote session.
type SessionResponse struct {
	User        *models.User `json:"user"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	RedirectURL string       `json:"redirect_url,omitempty"`
}
