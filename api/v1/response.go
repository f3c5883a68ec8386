package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"ampd/internal/mountplan"
	"ampd/internal/session"
	"ampd/internal/store"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error            string                 `json:"error"`
	Detail           string                 `json:"detail,omitempty"`
	ValidationErrors []mountplan.FieldError `json:"validation_errors,omitempty"`
}

// SendJSON writes a JSON response with the given status code.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// SendError writes an error body with an optional detail line.
func SendError(w http.ResponseWriter, status int, message, detail string) {
	SendJSON(w, status, ErrorResponse{Error: message, Detail: detail})
}

// WriteError maps a domain error onto the HTTP contract: 400 for
// validation and duplicates, 404 for missing records, 409 for the
// single-writer gate, 422 for body validation, 500 otherwise.
func WriteError(w http.ResponseWriter, err error) {
	var ve *mountplan.ValidationError
	switch {
	case errors.As(err, &ve):
		SendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:            "validation failed",
			ValidationErrors: ve.Fields,
		})
	case errors.Is(err, store.ErrNotFound):
		SendError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		SendError(w, http.StatusBadRequest, "already exists", err.Error())
	case errors.Is(err, store.ErrInvalid):
		SendError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		SendError(w, http.StatusConflict, "session busy", err.Error())
	default:
		SendError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
