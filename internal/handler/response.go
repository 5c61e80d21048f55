package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Order matters: ErrInactiveProduct also unwraps to ErrValidation.
var errorKinds = []struct {
	kind   error
	appErr *AppError
}{
	{domain.ErrInactiveProduct, ErrProductUnavailable},
	{domain.ErrValidation, ErrValidationFailed},
	{domain.ErrAuthentication, ErrInvalidSignature},
	{domain.ErrNotFound, ErrResourceNotFound},
	{domain.ErrConflict, ErrConflict},
	{domain.ErrUpstream, ErrUpstreamFailed},
	{domain.ErrConfiguration, ErrMisconfigured},
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{Success: true, Data: data})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Error: &APIError{Code: appErr.Code, Message: appErr.Message, Details: details},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError maps an error kind from the domain package onto its
// HTTP response. A *domain.ValidationError contributes the offending field.
func RespondDomainError(w http.ResponseWriter, err error) {
	var details any
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		details = []FieldError{{Field: ve.Field, Message: ve.Message}}
	}

	for _, k := range errorKinds {
		if !errors.Is(err, k.kind) {
			continue
		}
		if k.appErr.Status >= http.StatusInternalServerError {
			slog.Error("request failed", "code", k.appErr.Code, "error", err)
		}
		RespondAppError(w, k.appErr, details)
		return
	}

	slog.Error("unhandled domain error", "error", err)
	RespondAppError(w, ErrInternalError, nil)
}
