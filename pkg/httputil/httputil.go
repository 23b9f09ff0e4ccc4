// Package httputil centralizes JSON encoding and sentinel-to-HTTP error
// translation so handlers never inspect error strings.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"custos/pkg/sentinel"
)

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError translates a sentinel error into an HTTP response. Unrecognized
// errors become 500 with the detail omitted from the body.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sentinel.ErrValidation):
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Description: err.Error()})
	case errors.Is(err, sentinel.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, sentinel.ErrUnauthorized):
		WriteJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, sentinel.ErrRangeBusy):
		WriteJSON(w, http.StatusConflict, errorBody{Error: "range_busy", Description: "an archive or verification run holds the range; retry later"})
	case errors.Is(err, sentinel.ErrStoreUnavailable):
		WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Description: "the action was not recorded"})
	case errors.Is(err, sentinel.ErrArchiveFailed):
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "archive_failed"})
	default:
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}

// Decode parses a JSON body into T, replying 400 itself on malformed input.
// The bool reports whether the handler should continue.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		logger.WarnContext(r.Context(), "malformed request body", "path", r.URL.Path, "error", err)
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_body", Description: err.Error()})
		return v, false
	}
	return v, true
}
