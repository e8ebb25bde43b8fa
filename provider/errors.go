package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotModified reports that the remote term list already matches
	// the version the caller holds. Not a failure.
	ErrNotModified = errors.New("not modified")
)

// ErrRateLimited is returned when the remote service throttles the
// client. RetryAfter carries the server-suggested pause.
type ErrRateLimited struct {
	Message    string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %v)", e.Message, e.RetryAfter)
}

// ErrRemote is any other failure reported by the remote service.
type ErrRemote struct {
	StatusCode int
	Message    string
}

func (e *ErrRemote) Error() string {
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, e.Message)
}
