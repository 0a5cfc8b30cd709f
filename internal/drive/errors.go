// Package drive provides an HTTP client for the Google Drive v3 REST API
// with retry, error classification, and the OAuth credential provider used
// by the sync engine.
package drive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("drive: bad request")
	ErrUnauthorized = errors.New("drive: unauthorized")
	ErrForbidden    = errors.New("drive: forbidden")
	ErrNotFound     = errors.New("drive: not found")
	ErrConflict     = errors.New("drive: conflict")
	ErrThrottled    = errors.New("drive: throttled")
	ErrServerError  = errors.New("drive: server error")
	ErrUnexpected   = errors.New("drive: unexpected status")

	// ErrNotLoggedIn is returned when no token file exists.
	ErrNotLoggedIn = errors.New("drive: not logged in")

	// ErrNoUploadSession is returned when the session request succeeded but
	// the server did not return a Location header.
	ErrNoUploadSession = errors.New("drive: missing upload session location")
)

// APIError is a non-2xx response from the remote API. The response body is
// kept so a human readable message can be extracted for status reporting.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
	RetryAfter time.Duration
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if msg := e.UserMessage(); msg != "" {
		return fmt.Sprintf("drive: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, msg)
	}

	return fmt.Sprintf("drive: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed (throttling or a
// server side failure).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// AuthRequired reports whether the credential was rejected.
func (e *APIError) AuthRequired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// errorEnvelope mirrors the Drive JSON error body.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// UserMessage extracts "message (reason)" from the JSON error body. Either
// part is omitted when absent; a body that is not a Drive error yields "".
func (e *APIError) UserMessage() string {
	var env errorEnvelope
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}

	msg := strings.TrimSpace(env.Error.Message)

	var reason string
	if len(env.Error.Errors) > 0 {
		reason = strings.TrimSpace(env.Error.Errors[0].Reason)
	}

	switch {
	case msg != "" && reason != "":
		return msg + " (" + reason + ")"
	case msg != "":
		return msg
	default:
		return reason
	}
}

// NetworkError is a transport failure where no HTTP response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("drive: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
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
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpected
	}
}

// isRetryable reports whether the given HTTP status code should be retried
// inside the client.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
