package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"quizhub/internal/domain"
)

type errorBody struct {
	Error          string              `json:"error"`
	Message        string              `json:"message"`
	CurrentVersion *int64              `json:"currentVersion,omitempty"`
	Status         domain.Availability `json:"status,omitempty"`
	AvailableFrom  *time.Time          `json:"availableFrom,omitempty"`
	AvailableUntil *time.Time          `json:"availableUntil,omitempty"`
	Limit          int                 `json:"limit,omitempty"`
	Used           int                 `json:"used,omitempty"`
	Field          string              `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write response")
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}

// writeError maps a domain error kind to its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	var (
		conflict    *domain.ConflictError
		unavailable *domain.NotAvailableError
		limit       *domain.LimitError
		invalid     *domain.ValidationError
	)
	body := errorBody{Message: err.Error()}
	switch {
	case errors.As(err, &conflict):
		body.Error = "conflict"
		body.CurrentVersion = &conflict.CurrentVersion
		return http.StatusConflict, body
	case errors.As(err, &unavailable):
		body.Error = "not_available"
		body.Status = unavailable.Status
		body.AvailableFrom = unavailable.AvailableFrom
		body.AvailableUntil = unavailable.AvailableUntil
		return http.StatusForbidden, body
	case errors.As(err, &limit):
		body.Error = "limit_exceeded"
		body.Limit = limit.Limit
		body.Used = limit.Used
		return http.StatusTooManyRequests, body
	case errors.As(err, &invalid):
		body.Error = "validation"
		body.Field = invalid.Field
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrConflict):
		body.Error = "conflict"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrNotFound):
		body.Error = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrNotAvailable):
		body.Error = "not_available"
		return http.StatusForbidden, body
	case errors.Is(err, domain.ErrAccessDenied):
		body.Error = "access_denied"
		return http.StatusForbidden, body
	case errors.Is(err, domain.ErrLimitExceeded):
		body.Error = "limit_exceeded"
		return http.StatusTooManyRequests, body
	case errors.Is(err, domain.ErrValidation):
		body.Error = "validation"
		return http.StatusUnprocessableEntity, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"}
}
