package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	ErrInvalidSignature   = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Callback signature is invalid"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrPayloadTooLarge    = &AppError{http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body is too large"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrProductUnavailable = &AppError{http.StatusBadRequest, "PRODUCT_UNAVAILABLE", "The requested product is not available"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrConflict           = &AppError{http.StatusConflict, "CONFLICT", "Resource already exists"}
	ErrRateLimited        = &AppError{http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please slow down"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
	ErrMisconfigured      = &AppError{http.StatusInternalServerError, "SERVICE_MISCONFIGURED", "Payment service is not configured"}
	ErrUpstreamFailed     = &AppError{http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "Payment provider request failed"}

	ErrIdempotencyConflict = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrAdminDisabled       = &AppError{http.StatusServiceUnavailable, "ADMIN_DISABLED", "Admin login is not configured"}
)
