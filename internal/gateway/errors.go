package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrSessionExpired is returned when an authorization failure could not be recovered
	// because the refresh credential is missing, expired, or was rejected.
	ErrSessionExpired = errors.New("session expired")
	// ErrClosed is returned by requests issued after Close.
	ErrClosed = errors.New("gateway closed")
)

// HTTPError is a non-2xx response. It is returned unchanged for every status except a
// recoverable 401/403, annotated with the request it belongs to.
type HTTPError struct {
	Status int
	Method string
	URL    string
	Body   []byte
}

func (e *HTTPError) Error() string {
	if msg := e.ServerMessage(); msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// ServerMessage returns the message field of a JSON error body, or "".
func (e *HTTPError) ServerMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if len(e.Body) == 0 || json.Unmarshal(e.Body, &body) != nil {
		return ""
	}
	return body.Message
}

// NetworkError is a failure to complete the round trip (DNS, connect, reset, timeout).
// It is never treated as an authorization failure and never retried.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was the per-call deadline.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) {
		return ne.Timeout()
	}
	return false
}

// RefreshError wraps the cause of a failed refresh. It matches ErrSessionExpired with errors.Is.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("session expired: refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() []error { return []error{ErrSessionExpired, e.Err} }
