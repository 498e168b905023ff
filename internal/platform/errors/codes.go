// Package errors provides structured error handling for lifecycle commands
// and realtime frames.
package errors

import "net/http"

// Code is a machine-readable error code shared by the REST and WebSocket
// surfaces.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Client input errors
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeRateLimited    Code = "RATE_LIMITED"

	// Lookup errors
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeScenarioNotFound Code = "SCENARIO_NOT_FOUND"

	// Session state errors
	CodeSessionAtCapacity Code = "SESSION_AT_CAPACITY"

	// Access errors
	CodeForbidden    Code = "FORBIDDEN"
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInternal hides unexpected failures from clients.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeSessionNotFound, CodeScenarioNotFound:
		return http.StatusNotFound
	case CodeSessionAtCapacity:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
