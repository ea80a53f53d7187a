// Package remote provides an HTTP client for the record sync service
// with automatic retry, optimistic-concurrency headers, and error
// classification.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: version conflict")
	ErrGone         = errors.New("remote: cursor expired")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
)

// Error wraps a sentinel error with HTTP status code, request ID, the API
// error message body, and — for version-conflict rejections — the server's
// current snapshot of the record.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Snapshot   *Record // current server state, present on 412 conflicts
	Err        error   // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusOK && code < http.StatusMultipleChoices {
			return nil
		}

		return fmt.Errorf("remote: unexpected status %d", code)
	}
}

// isRetryable reports whether a status code warrants a retry.
// Throttling and server errors are transient; everything else is final.
func isRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsRejection reports whether err is a structured per-operation rejection
// (version conflict, missing record, invalid payload, expired cursor) as
// opposed to a transient transport or service failure. Rejections are routed
// through the conflict resolver; transient failures fail the whole sync pass
// and leave pending operations untouched.
func IsRejection(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}

	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrGone),
		errors.Is(err, ErrForbidden):
		return true
	default:
		return false
	}
}

// SnapshotOf returns the server snapshot carried by a rejection, or nil.
func SnapshotOf(err error) *Record {
	var re *Error
	if errors.As(err, &re) {
		return re.Snapshot
	}

	return nil
}
