package domain

import (
	"context"
	"errors"
	"time"
)

// --- Interfaces consumed by the pipeline ---

// GameStore persists game records. It is the single source of truth shared
// across processes; all mutations are field-scoped and keyed by game id.
type GameStore interface {
	// FindLive returns every record with status "live".
	FindLive(ctx context.Context) ([]GameRecord, error)

	// Get fetches a single record by id.
	Get(ctx context.Context, gameID string) (GameRecord, error)

	// ApplyDiff persists only the diff's fields plus lastUpdated, which is
	// kept monotonically non-decreasing. Writes against terminal records
	// fail with ErrTerminalState.
	ApplyDiff(ctx context.Context, gameID string, diff Diff, lastUpdated time.Time) error

	// Ping reports store reachability.
	Ping(ctx context.Context) error
}

// FeedProvider fetches the external feed's current view of a game.
type FeedProvider interface {
	FetchGame(ctx context.Context, league, gameID string) (FeedSnapshot, error)
}

// UpdateStrategy computes a field-scoped diff from a prior record and a
// feed snapshot. Implementations are pure: the same inputs always produce
// the same diff, and an already-applied snapshot produces an empty one.
type UpdateStrategy interface {
	League() string
	ComputeUpdate(prior GameRecord, snap FeedSnapshot) (Diff, error)
}

// Broadcaster fans an update out to a channel's subscribers and returns
// the delivered count. Delivery is best-effort, at most once.
type Broadcaster interface {
	Broadcast(channel string, update GameUpdate) int
}

// Identity is the verified principal behind a connection.
type Identity struct {
	Subject string
}

// TokenVerifier validates the bearer token presented on a WebSocket
// upgrade. Token issuance is an external concern.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ErrInvalidToken is returned by verifiers for any token that does not
// authenticate, without distinguishing why.
var ErrInvalidToken = errors.New("invalid token")
