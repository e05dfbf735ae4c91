package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches a 404 response.
	ErrNotFound = errors.New("remote resource not found")

	// ErrTransient matches failures worth retrying: transport errors and
	// responses with a retry-listed status.
	ErrTransient = errors.New("transient remote error")

	// ErrFatal matches every other non-2xx response.
	ErrFatal = errors.New("fatal remote error")

	// ErrRetriesExhausted wraps the last transient failure once the retry
	// budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrDecode is returned when a response body is not the expected JSON.
	ErrDecode = errors.New("failed to decode remote response")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string

	transient bool
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrTransient:
		return e.transient
	case ErrFatal:
		return !e.transient
	}
	return false
}
