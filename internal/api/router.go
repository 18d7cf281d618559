package api

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// d.Events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(d Deps, authEnabled bool, token string) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/status", h.Status)

	// Entries.
	r.Get("/entries", h.ListEntries)
	r.Post("/entries", h.CreateEntry)
	r.Get("/entries/{ts}", h.GetEntry)
	r.Delete("/entries/{ts}", h.DeleteEntry)
	r.Get("/entries/{ts}/attachment", h.EntryAttachment)
	r.Get("/archive", h.Archive)
	r.Get("/timeline", h.Timeline)

	// Transfer.
	r.Get("/export/json", h.ExportJSON)
	r.Get("/export/csv", h.ExportCSV)
	r.Post("/import", h.Import)

	// Activity.
	r.Get("/activity", h.ListActivity)
	r.Post("/activity", h.LogActivity)
	r.Put("/activity/pause", h.PauseActivity)
	r.Get("/activity/export", h.ExportActivity)

	// Session.
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.PutPreferences)
	r.Post("/tabs/{tab}", h.SwitchTab)
	r.Get("/auth/session", h.GetSession)
	r.Post("/auth/session", h.CreateSession)
	r.Delete("/auth/session", h.DeleteSession)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
