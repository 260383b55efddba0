package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a malformed prediction input. Surfaced to
	// the caller, never retried.
	ErrInvalidInput = errors.New("invalid prediction input")
	// ErrAuth indicates the athlete's credentials are invalid or expired.
	// Propagated immediately so the surrounding system can re-authorize.
	ErrAuth = errors.New("athlete authorization failed")
	// ErrAlreadyMatched is the expected idempotency outcome when a pending
	// prediction was already consumed by a concurrent event.
	ErrAlreadyMatched = errors.New("prediction already matched")
	// ErrPredictionNotFound is returned when a ledger entry vanished, e.g.
	// deleted by the user between lookup and commit.
	ErrPredictionNotFound = errors.New("pending prediction not found")
)

// FetchError wraps a transient upstream failure. Retried with bounded
// backoff before the event is dropped.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried by the matcher.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
