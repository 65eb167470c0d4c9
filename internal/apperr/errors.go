// Package apperr defines the typed errors exchanged between the stream, the
// snapshot and order clients, and the sync coordinator.
package apperr

import (
	"errors"
	"fmt"
)

// ErrRateLimited marks an order refused locally because the submission rate
// limit could not be satisfied before the request context ended.
var ErrRateLimited = errors.New("order rate limit exceeded")

// ConnectionError reports a push channel dial, read or close failure. It is
// recovered by the reconnect policy and never fatal.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError reports a malformed inbound frame or response body.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FetchError reports a failed HTTP exchange with the snapshot or order
// service. StatusCode is zero when no response was received.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistentFetchFailure is raised once consecutive snapshot refresh failures
// reach the configured threshold.
type PersistentFetchFailure struct {
	Consecutive int
	Last        error
}

func (e *PersistentFetchFailure) Error() string {
	return fmt.Sprintf("snapshot refresh failed %d times in a row: %v", e.Consecutive, e.Last)
}

func (e *PersistentFetchFailure) Unwrap() error { return e.Last }
