package web

// errors.go maps storage and request errors onto JSON error responses.
// Technical detail is logged server-side with the request id; the client
// sees a short message and the HTTP status.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/attachkit/attachkit/internal/logging"
	"github.com/attachkit/attachkit/internal/storage"
)

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError logs err and writes the matching JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
	)

	writeJSON(w, status, ErrorResponse{Error: message})
}

// respondErrorMessage writes a JSON error response with an explicit status,
// for failures that never carried an error value.
func respondErrorMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"reason", message,
	)

	writeJSON(w, status, ErrorResponse{Error: message})
}

func classify(err error) (int, string) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "attachment not found"
	case errors.Is(err, storage.ErrBadOffset):
		return http.StatusConflict, "chunk offset does not match stored content"
	// The multipart reader does not always wrap the MaxBytesReader error,
	// so match its message as well.
	case errors.As(err, &maxBytes), strings.Contains(err.Error(), "request body too large"):
		return http.StatusRequestEntityTooLarge, "request body too large"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
