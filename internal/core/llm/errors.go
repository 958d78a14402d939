package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned before any network call when no API key is configured.
	ErrMissingCredential = errors.New("llm: missing API credential")
	// ErrCircuitOpen means recent calls kept failing and the provider is being skipped.
	ErrCircuitOpen = errors.New("llm: circuit open")
)

// HTTPStatusError is a non-2xx answer from the hosted model.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: http %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// MalformedReplyError is a 2xx answer whose envelope could not be used.
type MalformedReplyError struct {
	Reason string
	Err    error
}

func (e *MalformedReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: malformed reply: %s: %v", e.Reason, e.Err)
	}
	return "llm: malformed reply: " + e.Reason
}

func (e *MalformedReplyError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
