// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/stream-pulse/backend/stream"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB
	ctx context.Context
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB) *Handlers {
	return &Handlers{db: db, ctx: ctx}
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// writeDomainError maps stream package errors onto the API error envelope:
// validation and conflict failures are 400, missing records 404, anything
// else is a database failure surfaced as 500 with the message passed through.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case stream.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case stream.IsConflict(err):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case stream.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "")
	default:
		writeError(w, http.StatusInternalServerError, "database error", err.Error())
	}
}
