// Package errors provides structured error handling for the step-up service.
package errors

// Domain is the error domain for Stronghold errors.
const Domain = "github.com/strongholdauth/stronghold"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context for responses
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata attached.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HTTPStatus maps the error to the status used by the HTTP surface.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// AsDomain returns err as a domain error, synthesizing an UNKNOWN error
// for foreign error values so callers always have a code to act on.
func AsDomain(err error) *Error {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*Error); ok {
		return domainErr
	}
	return Wrap(CodeUnknown, err.Error(), err)
}
