// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// the structured error envelope, the translation of synchronizer failures
// into HTTP statuses, and small helpers for success responses.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting; 5xx responses are
//     logged with the request-scoped logger.
//   - `failErr()` maps an error returned by a service onto fail().
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "dependency_missing",
//	  "message": "stress prediction is not available",
//	  "details": {"stage": "fetching_dependencies"}
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wellness-sync/internal/apperror"
	"github.com/tbourn/wellness-sync/internal/http/middleware"
	"github.com/tbourn/wellness-sync/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"dependency_missing"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"stress prediction is not available"`
	// Pipeline stage reached and upstream status, when known
	Details map[string]any `json:"details,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

func failWith(c *gin.Context, status int, code, msg string, details map[string]any) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr translates a service error into the error envelope.
//
//	InvalidInput / sentinels 400 bad_request
//	Unauthenticated          401 unauthorized
//	DependencyMissing        409 dependency_missing
//	LocationUnavailable      422 location_unavailable
//	TransportFailure         502 inference_unavailable
//	ServerRejected           502 inference_rejected (server message)
//	MalformedResponse        502 inference_malformed
//	StoreFailure / other     500
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownDomain),
		errors.Is(err, services.ErrEmptyForm),
		errors.Is(err, services.ErrEmptyAttachment),
		errors.Is(err, services.ErrInvalidSource),
		errors.Is(err, apperror.ErrInvalidInput):
		msg := err.Error()
		if ae, ok := apperror.As(err); ok {
			msg = ae.Message
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	ae, isApp := apperror.As(err)
	if !isApp {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}

	var details map[string]any
	if ae.Stage != "" {
		details = map[string]any{"stage": ae.Stage}
	}
	if ae.Status != 0 {
		if details == nil {
			details = map[string]any{}
		}
		details["upstream_status"] = ae.Status
	}

	switch ae.Kind {
	case apperror.KindUnauthenticated:
		failWith(c, http.StatusUnauthorized, ErrCodeUnauthorized, ae.Message, details)
	case apperror.KindDependencyMissing:
		failWith(c, http.StatusConflict, ErrCodeDependencyMissing, ae.Message, details)
	case apperror.KindLocationUnavailable:
		failWith(c, http.StatusUnprocessableEntity, ErrCodeLocationUnavailable, ae.Message, details)
	case apperror.KindTransportFailure:
		failWith(c, http.StatusBadGateway, ErrCodeInferenceFailed, ae.Message, details)
	case apperror.KindServerRejected:
		failWith(c, http.StatusBadGateway, ErrCodeInferenceRejected, ae.Message, details)
	case apperror.KindMalformedResponse:
		failWith(c, http.StatusBadGateway, ErrCodeInferenceMalformed, ae.Message, details)
	case apperror.KindStoreFailure:
		_ = c.Error(err)
		failWith(c, http.StatusInternalServerError, ErrCodeStoreFailure, "document store unavailable", details)
	default:
		_ = c.Error(err)
		failWith(c, http.StatusInternalServerError, ErrCodeInternal, "internal error", details)
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
