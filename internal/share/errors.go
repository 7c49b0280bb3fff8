// Package share implements two outbound-only adapters: sharing an
// archived attachment to a user-configured document manager, and a
// correspondent to a user-configured contact server. Both are pure
// pass-through — neither mutates archive state — and both map their
// target's HTTP responses onto the same three error kinds.
package share

import "fmt"

// PermissionError is returned when the remote service rejects the
// request as unauthorized or forbidden (HTTP 401/403).
type PermissionError struct {
	Status int
	Body   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied (HTTP %d): %s", e.Status, e.Body)
}

// ValueError is returned for any other 4xx/5xx response, carrying the
// server's own error message along.
type ValueError struct {
	Status int
	Body   string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("request rejected (HTTP %d): %s", e.Status, e.Body)
}

// ConnectionError wraps a transport-level failure — DNS, dial, TLS,
// timeout — that never reached the remote service at all.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection failed: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code to one of the three error
// kinds above. A nil return means the response was a success (2xx).
func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return &PermissionError{Status: status, Body: body}
	default:
		return &ValueError{Status: status, Body: body}
	}
}
