package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/timedline/internal/activity"
	"github.com/starford/timedline/internal/auth"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/session"
	"github.com/starford/timedline/internal/storage"
	"github.com/starford/timedline/internal/vault"
)

// Deps are the components the API serves.
type Deps struct {
	Vault    *vault.Manager
	Activity *activity.Manager
	Tracker  *session.Tracker
	Selector *storage.Selector
	// Auth is nil when no remote backend is configured.
	Auth *auth.Session
	// RemoteWanted reports that the config asked for the remote backend.
	RemoteWanted bool
	// Events, if non-nil, is mounted at GET /events.
	Events http.Handler
	Now    func() time.Time
}

// Handler holds API route handlers.
type Handler struct {
	d Deps
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{d: d}
}

// entryTS extracts the {ts} path parameter.
func entryTS(r *http.Request) (int64, bool) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "ts"), 10, 64)
	return ts, err == nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// validatable is implemented by request DTOs.
type validatable interface {
	Validate() error
}

func validRequest(w http.ResponseWriter, req validatable) bool {
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// Status handles GET /api/status.
//
//	@Summary		Active backend, session and counters
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	b := h.d.Selector.Current()
	user, err := b.Driver.CurrentUser(r.Context())
	if err != nil {
		slog.Warn("current user lookup failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Driver:            b.Driver.Name(),
		Generation:        b.Generation,
		Remote:            b.Remote(),
		RemoteWanted:      h.d.RemoteWanted,
		User:              user,
		Entries:           h.d.Vault.Len(),
		EntriesGeneration: h.d.Vault.Generation(),
		ActivityPaused:    h.d.Activity.Paused(),
		ActiveTab:         h.d.Tracker.Active(),
	})
}

// ListEntries handles GET /api/entries.
//
//	@Summary		List entries, optionally filtered by a search term
//	@Tags			entries
//	@Produce		json
//	@Param			q	query		string	false	"Case-insensitive search over content and attachment names"
//	@Success		200	{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/entries [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var entries []models.Entry
	if q == "" {
		entries = h.d.Vault.Entries()
	} else {
		entries = h.d.Vault.Search(q)
		h.d.Activity.Log(r.Context(), `Searched: "`+q+`"`, models.KindSearch)
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries, Total: len(entries)})
}

// CreateEntry handles POST /api/entries.
//
//	@Summary		Save a new entry
//	@Description	Accepts JSON {"text": "..."} or multipart/form-data with fields "text" and "file".
//	@Tags			entries
//	@Accept			json,mpfd
//	@Produce		json
//	@Param			body	body		CreateEntryRequest	false	"Text entry"
//	@Success		201		{object}	models.Entry
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries [post]
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var draft vault.Draft
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
			return
		}
		draft.Text = r.FormValue("text")
		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			draft.File = &storage.File{
				Name:     header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Size:     header.Size,
				Body:     file,
			}
		case !errors.Is(err, http.ErrMissingFile):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid 'file' field in multipart form"))
			return
		}
	} else {
		var req CreateEntryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		draft.Text = req.Text
	}

	entry, err := h.d.Vault.Save(r.Context(), draft)
	if err != nil {
		writeError(w, "create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GetEntry handles GET /api/entries/{ts}.
//
//	@Summary		Get a single entry
//	@Tags			entries
//	@Produce		json
//	@Param			ts	path		int	true	"Entry timestamp (ms)"
//	@Success		200	{object}	models.Entry
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{ts} [get]
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ts, ok := entryTS(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid timestamp"))
		return
	}
	e, found := h.d.Vault.Get(ts)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	h.d.Activity.Log(r.Context(), "Opened entry from "+e.Date, models.KindOpen)
	writeJSON(w, http.StatusOK, e)
}

// DeleteEntry handles DELETE /api/entries/{ts}.
//
//	@Summary		Delete an entry and its attachment
//	@Tags			entries
//	@Param			ts	path	int	true	"Entry timestamp (ms)"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{ts} [delete]
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ts, ok := entryTS(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid timestamp"))
		return
	}
	if _, err := h.d.Vault.Delete(r.Context(), ts); err != nil {
		writeError(w, "delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EntryAttachment handles GET /api/entries/{ts}/attachment.
//
//	@Summary		Redirect to a freshly resolved attachment URL
//	@Tags			entries
//	@Param			ts	path	int	true	"Entry timestamp (ms)"
//	@Success		302
//	@Failure		404	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{ts}/attachment [get]
func (h *Handler) EntryAttachment(w http.ResponseWriter, r *http.Request) {
	ts, ok := entryTS(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid timestamp"))
		return
	}
	url, err := h.d.Vault.ResolveAttachment(r.Context(), ts)
	if err != nil {
		writeError(w, "resolve attachment", err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Archive handles GET /api/archive.
//
//	@Summary		Entries grouped by date, newest date first
//	@Tags			entries
//	@Produce		json
//	@Success		200	{object}	ArchiveResponse
//	@Security		BearerAuth
//	@Router			/archive [get]
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ArchiveResponse{Groups: h.d.Vault.GroupByDate()})
}

// Timeline handles GET /api/timeline.
//
//	@Summary		Timeline layout of all entries
//	@Tags			entries
//	@Produce		json
//	@Success		200	{object}	TimelineResponse
//	@Security		BearerAuth
//	@Router			/timeline [get]
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TimelineResponse{Now: h.d.Now(), Points: h.d.Vault.Timeline()})
}

// ExportJSON handles GET /api/export/json.
//
//	@Summary		Download the vault as JSON
//	@Tags			transfer
//	@Produce		json
//	@Success		200
//	@Security		BearerAuth
//	@Router			/export/json [get]
func (h *Handler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	setAttachment(w, vault.EntriesJSONFile)
	if err := h.d.Vault.ExportJSON(r.Context(), w); err != nil {
		slog.Error("export json failed", slog.String("error", err.Error()))
	}
}

// ExportCSV handles GET /api/export/csv.
//
//	@Summary		Download the vault as CSV
//	@Tags			transfer
//	@Produce		text/csv
//	@Success		200
//	@Security		BearerAuth
//	@Router			/export/csv [get]
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	setAttachment(w, vault.EntriesCSVFile)
	if err := h.d.Vault.ExportCSV(r.Context(), w); err != nil {
		slog.Error("export csv failed", slog.String("error", err.Error()))
	}
}

// Import handles POST /api/import.
//
//	@Summary		Import entries from a JSON array
//	@Tags			transfer
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	vault.ImportResult
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	res, err := h.d.Vault.Import(r.Context(), r.Body)
	if err != nil {
		writeError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListActivity handles GET /api/activity.
//
//	@Summary		Activity log, newest first
//	@Tags			activity
//	@Produce		json
//	@Param			filter	query		string	false	"Kind filter"	Enums(all, tab, duration, save, search, open, export, session, misc)
//	@Success		200		{object}	ActivityListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/activity [get]
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	if f, ok := r.URL.Query()["filter"]; ok {
		if err := h.d.Activity.SetFilter(f[0]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
	}
	writeJSON(w, http.StatusOK, ActivityListResponse{
		Items:  h.d.Activity.Filtered(),
		Filter: h.d.Activity.Filter(),
		Paused: h.d.Activity.Paused(),
	})
}

// LogActivity handles POST /api/activity.
//
//	@Summary		Record a client-side action
//	@Tags			activity
//	@Accept			json
//	@Param			body	body	LogActivityRequest	true	"Activity item"
//	@Success		202
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/activity [post]
func (h *Handler) LogActivity(w http.ResponseWriter, r *http.Request) {
	var req LogActivityRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, req) {
		return
	}
	h.d.Activity.Log(r.Context(), req.Text, models.ActivityKind(req.Kind))
	w.WriteHeader(http.StatusAccepted)
}

// PauseActivity handles PUT /api/activity/pause.
//
//	@Summary		Pause or resume activity recording
//	@Tags			activity
//	@Accept			json
//	@Param			body	body	PauseRequest	true	"Pause state"
//	@Success		200		{object}	PauseRequest
//	@Security		BearerAuth
//	@Router			/activity/pause [put]
func (h *Handler) PauseActivity(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.d.Activity.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, PauseRequest{Paused: h.d.Activity.Paused()})
}

// ExportActivity handles GET /api/activity/export.
//
//	@Summary		Download the activity log as JSON
//	@Tags			activity
//	@Produce		json
//	@Success		200
//	@Security		BearerAuth
//	@Router			/activity/export [get]
func (h *Handler) ExportActivity(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	setAttachment(w, activity.ExportFile)
	if err := h.d.Activity.ExportJSON(r.Context(), w); err != nil {
		slog.Error("export activity failed", slog.String("error", err.Error()))
	}
}

// GetPreferences handles GET /api/preferences.
//
//	@Summary		UI preferences
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	session.Preferences
//	@Security		BearerAuth
//	@Router			/preferences [get]
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.Preferences{ActiveTab: h.d.Tracker.Active()})
}

// PutPreferences handles PUT /api/preferences.
//
//	@Summary		Update UI preferences
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PreferencesRequest	true	"Preferences"
//	@Success		200		{object}	session.Preferences
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preferences [put]
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, req) {
		return
	}
	h.switchTab(w, r, req.ActiveTab)
}

// SwitchTab handles POST /api/tabs/{tab}.
//
//	@Summary		Switch the active tab
//	@Tags			session
//	@Produce		json
//	@Param			tab	path		string	true	"Tab"	Enums(log, search, archive)
//	@Success		200	{object}	session.Preferences
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tabs/{tab} [post]
func (h *Handler) SwitchTab(w http.ResponseWriter, r *http.Request) {
	h.switchTab(w, r, chi.URLParam(r, "tab"))
}

func (h *Handler) switchTab(w http.ResponseWriter, r *http.Request, tab string) {
	if err := h.d.Tracker.Switch(r.Context(), tab); err != nil {
		writeError(w, "switch tab", err)
		return
	}
	writeJSON(w, http.StatusOK, session.Preferences{ActiveTab: h.d.Tracker.Active()})
}

// GetSession handles GET /api/auth/session.
//
//	@Summary		Current remote session
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/auth/session [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w) {
		return
	}
	h.writeSession(w, r)
}

// CreateSession handles POST /api/auth/session.
//
//	@Summary		Sign in with an access token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SessionRequest	true	"Access token"
//	@Success		200		{object}	SessionResponse
//	@Failure		401		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/auth/session [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w) {
		return
	}
	var req SessionRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, req) {
		return
	}
	if _, err := h.d.Auth.SetToken(r.Context(), req.AccessToken); err != nil {
		writeError(w, "sign in", err)
		return
	}
	h.writeSession(w, r)
}

// DeleteSession handles DELETE /api/auth/session.
//
//	@Summary		Sign out
//	@Tags			auth
//	@Success		204
//	@Security		BearerAuth
//	@Router			/auth/session [delete]
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireAuth(w) {
		return
	}
	if err := h.d.Auth.SignOut(r.Context()); err != nil {
		writeError(w, "sign out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(w http.ResponseWriter) bool {
	if h.d.Auth == nil {
		writeJSON(w, http.StatusNotFound, errorBody("remote backend is not configured"))
		return false
	}
	return true
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.d.Auth.CurrentUser(r.Context())
	if err != nil {
		writeError(w, "current user", err)
		return
	}
	resp := SessionResponse{User: user, RedirectURL: h.d.Auth.RedirectURL()}
	if user != nil {
		exp := h.d.Auth.ExpiresAt()
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func setAttachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
