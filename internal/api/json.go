package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/timedline/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps an error kind to a status. Backend failures keep the
// backend's own message so the caller can show it verbatim.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrInvalidImport):
		writeJSON(w, http.StatusBadRequest, errorBody(apperr.Message(err)))
	case errors.Is(err, apperr.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody(apperr.Message(err)))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrUploadFailed),
		errors.Is(err, apperr.ErrCreateFailed),
		errors.Is(err, apperr.ErrDeleteFailed),
		errors.Is(err, apperr.ErrResolution):
		writeJSON(w, http.StatusBadGateway, errorBody(apperr.Message(err)))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
