// Package apierr defines the closed set of errors surfaced by the Mammoth client.
//
// Every failure returned by the request executor, the job tracker and the
// resource APIs is an *Error carrying exactly one Kind. Callers switch on
// KindOf(err) instead of probing for concrete types.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the category of a client error.
type Kind string

const (
	// KindAuth means the server rejected the credentials (HTTP 401).
	KindAuth Kind = "auth"
	// KindAPI covers non-success responses, unparseable success bodies and
	// transport failures that survived every retry.
	KindAPI Kind = "api"
	// KindJobTimeout means a tracked job did not finish before the deadline.
	KindJobTimeout Kind = "job_timeout"
	// KindJobFailed means a tracked job reached a terminal failure state.
	KindJobFailed Kind = "job_failed"
	// KindValidation means caller-supplied input was rejected locally.
	KindValidation Kind = "validation"
)

// Error is the single concrete error type of the client. Only the fields
// relevant to Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	// KindAPI / KindAuth
	StatusCode int
	Body       []byte

	// KindJobTimeout / KindJobFailed
	JobID         int64
	Timeout       time.Duration
	FailureReason string

	// KindValidation
	Field string

	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAPI:
		if e.StatusCode != 0 {
			return fmt.Sprintf("api error: %s (status: %d)", e.Message, e.StatusCode)
		}
		return fmt.Sprintf("api error: %s", e.Message)
	case KindAuth:
		return fmt.Sprintf("auth error: %s", e.Message)
	case KindJobTimeout:
		return fmt.Sprintf("job %d timed out after %v", e.JobID, e.Timeout)
	case KindJobFailed:
		if e.FailureReason != "" {
			return fmt.Sprintf("job %d failed: %s", e.JobID, e.FailureReason)
		}
		return fmt.Sprintf("job %d failed", e.JobID)
	case KindValidation:
		if e.Field != "" {
			return fmt.Sprintf("validation error: %s (field: %s)", e.Message, e.Field)
		}
		return fmt.Sprintf("validation error: %s", e.Message)
	default:
		return e.Message
	}
}

// Unwrap exposes the transport failure behind an exhausted retry loop.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewAuthError creates an authentication error.
func NewAuthError(message string) *Error {
	if message == "" {
		message = "authentication failed"
	}
	return &Error{Kind: KindAuth, Message: message, StatusCode: 401}
}

// NewAPIError creates an API error for a received response.
func NewAPIError(message string, statusCode int, body []byte) *Error {
	return &Error{Kind: KindAPI, Message: message, StatusCode: statusCode, Body: body}
}

// NewTransportError creates an API error for a request that never produced a response.
func NewTransportError(message string, cause error) *Error {
	return &Error{Kind: KindAPI, Message: message, cause: cause}
}

// NewJobTimeoutError creates a job timeout error.
func NewJobTimeoutError(jobID int64, timeout time.Duration) *Error {
	return &Error{Kind: KindJobTimeout, JobID: jobID, Timeout: timeout}
}

// NewJobFailedError creates a job failure error. reason may be empty.
func NewJobFailedError(jobID int64, reason string) *Error {
	return &Error{Kind: KindJobFailed, JobID: jobID, FailureReason: reason}
}

// NewValidationError creates a local validation error.
func NewValidationError(message, field string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not a client error.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return ""
}

// Is reports whether err is a client error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsStatus reports whether err is an API error with the given status code.
func IsStatus(err error, statusCode int) bool {
	apiErr, ok := As(err)
	return ok && apiErr.StatusCode == statusCode
}
