package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrGameNotFound is returned by the store when no record matches an id.
	ErrGameNotFound = errors.New("game not found")

	// ErrTerminalState is returned when a write targets a record whose
	// status is terminal. The write is a rejected no-op.
	ErrTerminalState = errors.New("game is in a terminal state")

	// ErrUnsupportedLeague is returned when no update strategy is
	// registered for a game's league. Never retried.
	ErrUnsupportedLeague = errors.New("no update strategy registered for league")
)

// ValidationError marks a permanently bad input (malformed feed payload,
// impossible transition). The current cycle's game is skipped, never retried.
type ValidationError struct {
	GameID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for game %s: %s", e.GameID, e.Reason)
}

// StoreUnavailableError wraps connection-class store failures. The scheduler
// responds with bounded reconnection rather than per-game retry.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Permanent reports whether err must not be retried.
func Permanent(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrUnsupportedLeague) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrGameNotFound)
}

// StoreUnavailable reports whether err is a connection-class store failure.
func StoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}
