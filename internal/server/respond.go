package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/trip-ledger/internal/receipt"
)

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps repository errors to responses. Anything that is
// not a validation or lookup failure is logged and hidden behind message.
func writeDomainError(r *http.Request, w http.ResponseWriter, err error, message string) {
	var ve *receipt.ValidationError
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if errors.Is(err, receipt.ErrDuplicateTrip) || errors.Is(err, receipt.ErrDuplicateCategory) {
			status = http.StatusConflict
		}
		writeError(w, status, ve.Reason)
	case errors.Is(err, receipt.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	default:
		slog.ErrorContext(r.Context(), message, "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeBody decodes a JSON request body into v, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
