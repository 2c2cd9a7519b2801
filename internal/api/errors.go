package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odyotek/custody-core/internal/custody"
	"github.com/odyotek/custody-core/internal/device"
	"github.com/odyotek/custody-core/internal/notification"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeIllegalMove  = "illegal_transition"
	ErrCodeNotDelivered = "not_delivered"
	ErrCodeArchived     = "archived"
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
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps typed domain errors onto the response envelope.
// Unknown errors become an opaque 500; their detail stays in the log.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, notification.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, device.ErrBarcodeConflict),
		errors.Is(err, custody.ErrConcurrentModification),
		errors.Is(err, notification.ErrDuplicateNotification),
		errors.Is(err, notification.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, custody.ErrIllegalTransition):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeIllegalMove, err.Error())

	case errors.Is(err, notification.ErrDeviceNotDelivered):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeNotDelivered, err.Error())

	case errors.Is(err, device.ErrDeviceArchived):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeArchived, err.Error())

	case errors.Is(err, custody.ErrNotesRequired),
		errors.Is(err, custody.ErrInvalidOperation),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidBarcode),
		errors.Is(err, device.ErrInvalidSerial),
		errors.Is(err, device.ErrInvalidDeviceType),
		errors.Is(err, device.ErrInvalidPossessionState),
		errors.Is(err, notification.ErrNoDevices):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	default:
		writeInternalError(w, "internal server error")
	}
}
