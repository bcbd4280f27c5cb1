// Package httpapi implements the thin HTTP surface (spec §6): REST CRUD
// over the flow/run/retention repositories plus the one non-thin handler,
// the dynamic webhook matcher (§4.5). Grounded on the teacher's
// internal/app/httpapi/handler.go thin-handler style (parse → call
// service → JSON-encode, decodeJSON/writeJSON/writeError helpers) but
// rebuilt on github.com/gorilla/mux instead of http.ServeMux for the
// {id}/{vid} path variables and the webhook catch-all route.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/core"
)

var errTooManyRequests = errors.New("too many webhook requests")

// errorEnvelope is the wire shape for every non-2xx JSON response (spec §6).
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err.Error()})
}

// writeStorageError renders a *apperr.StorageError with its RetryAfter
// hint surfaced as a header, per spec §6/§7.
func writeStorageError(w http.ResponseWriter, err *apperr.StorageError) {
	if err.RetryAfter != "" {
		w.Header().Set("Retry-After", err.RetryAfter)
	}
	writeError(w, http.StatusServiceUnavailable, err)
}

// statusForError maps the apperr taxonomy to the HTTP status codes
// documented in spec §6.
func statusForError(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsTimeout(err):
		return http.StatusGatewayTimeout
	case apperr.IsStorage(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeClassifiedError renders err with the status statusForError maps it
// to, attaching the Retry-After hint for storage errors.
func writeClassifiedError(w http.ResponseWriter, err error) {
	var storageErr *apperr.StorageError
	if se, ok := err.(*apperr.StorageError); ok {
		storageErr = se
	}
	if storageErr != nil {
		writeStorageError(w, storageErr)
		return
	}
	writeError(w, statusForError(err), err)
}

// tryParseJSON parses body as an arbitrary JSON value, used by the webhook
// handler to hand structured bodies to template resolution instead of a
// raw string.
func tryParseJSON(body []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	return v, true
}

func parseLimitParam(raw string, defaultLimit, maxLimit int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return core.ClampLimit(0, defaultLimit, maxLimit), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("limit must be non-negative")
	}
	return core.ClampLimit(n, defaultLimit, maxLimit), nil
}
