package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/folio/internal/apperr"
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

// writeError maps a service error onto a status code. Unclassified errors
// are logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrSyncConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict pending"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	case errors.Is(err, apperr.ErrUnsavedChanges):
		writeJSON(w, http.StatusConflict, errorBody("unsaved changes"))
	case errors.Is(err, apperr.ErrClosed):
		writeJSON(w, http.StatusGone, errorBody("session closed"))
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{Error: "validation failed", Detail: err.Error()})
	case errors.Is(err, apperr.ErrUnreadableInput):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("unreadable input"))
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
