// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` and `failErr()` helpers in this package). Codes
// give clients a stable, machine-readable taxonomy next to the human message.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, unauthorized, conflict) mirror HTTP status
//     semantics.
//   - Circulation codes (invalid_state, permission_denied) mirror the service
//     error kinds one-to-one so clients can branch without parsing messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "permission_denied",
//	  "message": "credit too low to borrow",
//	  "details": {"credit": 55, "required": 60}
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Circulation-specific:
	ErrCodeInvalidState     = "invalid_state"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeJobRunning       = "job_running"
)
