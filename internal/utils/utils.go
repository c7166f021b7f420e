// Package utils holds the JSON response helpers shared by every HTTP handler.
package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// requestIDHeader must match the header the request ID middleware sets.
const requestIDHeader = "X-Request-ID"

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status. Readings change constantly, so
// responses are never cacheable.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "status", status, "error", err)
	}
}

// WriteError writes an ErrorResponse, echoing the request ID when the
// middleware has already put one on the response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   msg,
		RequestID: w.Header().Get(requestIDHeader),
	})
}
