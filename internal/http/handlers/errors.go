// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via `fail()` and `failErr()` in this package). These codes give
// clients a stable, machine-readable error taxonomy that supplements the
// human-readable message.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes mirror common HTTP status semantics.
//   - Pipeline codes map one-to-one onto the failure kinds of the
//     synchronizer, so a client can tell "submit stress first" (409) from
//     "the model server is down" (502) without parsing messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "dependency_missing",
//	  "message": "stress prediction is not available",
//	  "details": {"stage": "fetching_dependencies"}
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "service_unavailable"

	// Synchronization pipeline:
	ErrCodeDependencyMissing   = "dependency_missing"
	ErrCodeLocationUnavailable = "location_unavailable"
	ErrCodeInferenceFailed     = "inference_unavailable"
	ErrCodeInferenceRejected   = "inference_rejected"
	ErrCodeInferenceMalformed  = "inference_malformed"
	ErrCodeStoreFailure        = "store_failure"
)
