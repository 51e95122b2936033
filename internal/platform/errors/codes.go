// Package errors provides structured error handling for CRM operations.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeClientNameEmpty     Code = "CLIENT_NAME_EMPTY"
	CodeClientInvalidEmail  Code = "CLIENT_INVALID_EMAIL"
	CodeClientInvalidPhone  Code = "CLIENT_INVALID_PHONE"
	CodeClientNoEmail       Code = "CLIENT_NO_EMAIL"
	CodeInvalidPublicID     Code = "INVALID_PUBLIC_ID"
	CodeManagerNameEmpty    Code = "MANAGER_NAME_EMPTY"
	CodeManagerInvalidEmail Code = "MANAGER_INVALID_EMAIL"
	CodeEventInvalidType    Code = "EVENT_INVALID_TYPE"
	CodeEventInvalidPayload Code = "EVENT_INVALID_PAYLOAD"
	CodeImportMalformedCSV  Code = "IMPORT_MALFORMED_CSV"

	// Resource errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Access errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Infrastructure errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeBusUnavailable     Code = "BUS_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, malformed input
	case CodeClientNameEmpty,
		CodeClientInvalidEmail,
		CodeClientInvalidPhone,
		CodeClientNoEmail,
		CodeInvalidPublicID,
		CodeManagerNameEmpty,
		CodeManagerInvalidEmail,
		CodeEventInvalidType,
		CodeEventInvalidPayload,
		CodeImportMalformedCSV:
		return http.StatusBadRequest

	// Not found - resource absent or cross-tenant
	case CodeNotFound:
		return http.StatusNotFound

	// Conflict - unique constraint on identity fields
	case CodeConflict:
		return http.StatusConflict

	// Unauthorized - missing required capability
	case CodeUnauthorized:
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}
