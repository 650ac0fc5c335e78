package memory

import "errors"

// FailureClass categorizes service errors for callers that map them onto a
// transport (HTTP status codes, MCP tool errors).
type FailureClass string

const (
	// FailureValidation marks malformed input. Never retried.
	FailureValidation FailureClass = "validation"
	// FailureDependency marks an unreachable or timed-out collaborator.
	// Surfaced immediately; never retried, never degraded to a partial result.
	FailureDependency FailureClass = "dependency_unavailable"
	// FailureNotFound marks an operation against an unknown id.
	FailureNotFound FailureClass = "not_found"
)

// Error is the service-level error type.
type Error struct {
	Class      FailureClass
	Dependency string // which collaborator failed ("store", "embeddings"); empty otherwise
	Message    string
	Err        error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates an error for rejected input.
func NewValidationError(message string) *Error {
	return &Error{Class: FailureValidation, Message: message}
}

// NewDependencyError creates an error for an unavailable collaborator.
func NewDependencyError(dependency, message string, err error) *Error {
	return &Error{Class: FailureDependency, Dependency: dependency, Message: message, Err: err}
}

// NewNotFoundError creates an error for an unknown id.
func NewNotFoundError(message string) *Error {
	return &Error{Class: FailureNotFound, Message: message}
}

// IsValidation checks whether err is a validation failure.
func IsValidation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == FailureValidation
}

// IsDependencyUnavailable checks whether err is a dependency failure.
func IsDependencyUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == FailureDependency
}

// IsNotFound checks whether err is a not-found failure.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == FailureNotFound
}

// FailedDependency returns the name of the collaborator behind a dependency
// failure, or "" if err is not one.
func FailedDependency(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Class == FailureDependency {
		return e.Dependency
	}
	return ""
}
