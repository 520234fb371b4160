package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RepairError is the 422 body for a configuration that could not be
// repaired. The safe default is already live when it is sent.
type RepairError struct {
	Error
	Repair *keymap.RepairFailedError `json:"repair"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeRepairFailed   = "repair_failed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps supervisor and pipeline errors onto HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	var repair *keymap.RepairFailedError
	switch {
	case errors.As(err, &repair):
		writeJSON(w, http.StatusUnprocessableEntity, RepairError{
			Error: Error{
				Status:  http.StatusUnprocessableEntity,
				Code:    ErrCodeRepairFailed,
				Message: err.Error(),
			},
			Repair: repair,
		})
	case errors.Is(err, keymap.ErrInvalidMapping), errors.Is(err, keymap.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, supervisor.ErrUnknownDiagnostic):
		writeNotFound(w, err.Error())
	case errors.Is(err, supervisor.ErrNotAutoFixable), errors.Is(err, supervisor.ErrRecoveryUnavailable):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, supervisor.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "request cancelled")
	default:
		writeInternalError(w, err.Error())
	}
}
