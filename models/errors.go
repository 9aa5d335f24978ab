package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeBrowserLaunch = "BROWSER_LAUNCH_FAILED"
	ErrCodeNavigation    = "NAVIGATION_FAILED"
	ErrCodeRender        = "RENDER_FAILED"
	ErrCodeSessionClosed = "SESSION_CLOSED"
	ErrCodeTransport     = "TRANSPORT_FAILED"
	ErrCodeInvalidHeader = "INVALID_HEADER"
	ErrCodeDecode        = "DECODE_FAILED"
	ErrCodeModelLoad     = "MODEL_LOAD_FAILED"
	ErrCodeInference     = "INFERENCE_FAILED"

	ErrCodeTimeout      = "FETCH_TIMEOUT"
	ErrCodeCanceled     = "CANCELED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Cleanup []string `json:"cleanup,omitempty"`
}

// FetchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
//
// Cleanup holds failures that happened while releasing resources after the
// primary failure. They are reported alongside Err and never replace it.
type FetchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
	Cleanup []error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Cleanup) > 0 {
		b.WriteString(" (cleanup: ")
		for i, c := range e.Cleanup {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Error())
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WithCleanup attaches secondary cleanup failures. Nil errors are skipped.
func (e *FetchError) WithCleanup(errs ...error) *FetchError {
	for _, err := range errs {
		if err != nil {
			e.Cleanup = append(e.Cleanup, err)
		}
	}
	return e
}

// NewFetchError creates a new FetchError.
func NewFetchError(code, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FetchError) ToDetail() *ErrorDetail {
	d := &ErrorDetail{Code: e.Code, Message: e.Message}
	if e.Err != nil {
		d.Message = e.Message + ": " + e.Err.Error()
	}
	for _, c := range e.Cleanup {
		d.Cleanup = append(d.Cleanup, c.Error())
	}
	return d
}

// FromContext wraps a context error: deadlines become ErrCodeTimeout and
// cancellations ErrCodeCanceled.
func FromContext(err error, msg string) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFetchError(ErrCodeTimeout, msg+": timed out", err)
	}
	return NewFetchError(ErrCodeCanceled, msg+": canceled", err)
}

// CodeOf returns the code of the first FetchError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Code == code
}
