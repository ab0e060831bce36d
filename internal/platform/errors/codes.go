package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session lifecycle errors
	CodeNotFound             Code = "SESSION_NOT_FOUND"
	CodeInvalidState         Code = "SESSION_INVALID_STATE"
	CodeVerificationRequired Code = "SESSION_VERIFICATION_REQUIRED"
	CodeUnsupportedAuthType  Code = "SESSION_UNSUPPORTED_AUTH_TYPE"

	// Validation errors
	CodeInvalidRequest    Code = "VALIDATION_INVALID_REQUEST"
	CodeSubjectRequired   Code = "VALIDATION_SUBJECT_REQUIRED"
	CodeSessionIDRequired Code = "VALIDATION_SESSION_ID_REQUIRED"
	CodePayloadRequired   Code = "VALIDATION_PAYLOAD_REQUIRED"
	CodeInvalidAuthType   Code = "VALIDATION_INVALID_AUTH_TYPE"

	// Infrastructure errors
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeChannelFailure Code = "CHANNEL_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes.
//
// The original surface answers business-rule violations with 400 rather
// than 404, so not-found keeps that mapping.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound,
		CodeInvalidRequest,
		CodeInvalidState,
		CodeVerificationRequired,
		CodeUnsupportedAuthType,
		CodeSubjectRequired,
		CodeSessionIDRequired,
		CodePayloadRequired,
		CodeInvalidAuthType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
