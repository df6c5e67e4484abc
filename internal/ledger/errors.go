package ledger

import (
	"errors"
	"fmt"
	"time"
)

// #region sentinels

// Sentinel errors for the write-side state machine and the read paths.
// Callers branch with errors.Is; Classify collapses any error into the
// closed Kind enumeration used by the reconstructor.
var (
	ErrUnauthorized     = errors.New("unauthorized writer")
	ErrPaused           = errors.New("ledger paused")
	ErrSessionNotActive = errors.New("session not active")
	ErrAlreadyActive    = errors.New("session already active")
	ErrOutOfRange       = errors.New("value out of range")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnavailable      = errors.New("ledger unavailable")
	ErrEmpty            = errors.New("no snapshot recorded yet")
	ErrEmptyHistory     = errors.New("empty history")
	ErrAlreadyExists    = errors.New("already exists")
)

// #endregion sentinels

// #region rate-limit

// RateLimitError carries the wait the caller must observe before retrying.
type RateLimitError struct {
	Scope string // session id or actor
	Wait  time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s: %v", e.Scope, e.Wait.Round(time.Millisecond), ErrRateLimited)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// #endregion rate-limit

// #region kind

// FailureKind is the closed classification the reconstructor branches on.
// Only KindUnavailable triggers the replay fallback; everything else
// propagates immediately.
type FailureKind int

const (
	KindNone FailureKind = iota
	KindUnavailable
	KindValidation
	KindStateMachine
	KindEmptyData
	KindInternal
)

// Classify maps an error to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrRateLimited):
		return KindValidation
	case errors.Is(err, ErrSessionNotActive), errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrUnauthorized), errors.Is(err, ErrPaused),
		errors.Is(err, ErrAlreadyExists):
		return KindStateMachine
	case errors.Is(err, ErrEmpty), errors.Is(err, ErrEmptyHistory):
		return KindEmptyData
	default:
		return KindInternal
	}
}

// #endregion kind
