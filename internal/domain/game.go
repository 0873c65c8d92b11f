package domain

import (
	"time"
)

// GameStatus is the lifecycle state of a game record.
type GameStatus string

const (
	StatusScheduled GameStatus = "scheduled"
	StatusLive      GameStatus = "live"
	StatusSuspended GameStatus = "suspended"
	StatusCompleted GameStatus = "completed"
	StatusPostponed GameStatus = "postponed"
	StatusCancelled GameStatus = "cancelled"
	StatusAbandoned GameStatus = "abandoned"
)

// Terminal reports whether a status permits no further transitions.
// Writes against a terminal record are rejected by the store.
func (s GameStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPostponed, StatusCancelled, StatusAbandoned:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s GameStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusSuspended,
		StatusCompleted, StatusPostponed, StatusCancelled, StatusAbandoned:
		return true
	}
	return false
}

// CanTransitionTo implements the status state machine:
// scheduled → live → completed; live ↔ suspended; any non-terminal
// state may move to a terminal state other than completed.
// A transition to the same status is a permitted no-op.
func (s GameStatus) CanTransitionTo(next GameStatus) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	switch next {
	case StatusCancelled, StatusPostponed, StatusAbandoned:
		return true
	case StatusLive:
		return s == StatusScheduled || s == StatusSuspended
	case StatusSuspended:
		return s == StatusLive
	case StatusCompleted:
		return s == StatusLive
	}
	return false
}

// Team is one side of a game.
type Team struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// GameEvent is a single in-game occurrence (score change, period change, ...).
type GameEvent struct {
	Type        string    `json:"type"`
	Period      int       `json:"period"`
	Team        string    `json:"team,omitempty"`
	Description string    `json:"description,omitempty"`
	At          time.Time `json:"at"`
}

// GameRecord is the persisted state of a single game. It is owned by the
// game store and mutated only through field-scoped diffs.
type GameRecord struct {
	ID            string      `json:"id"`
	League        string      `json:"league"`
	HomeTeam      Team        `json:"homeTeam"`
	AwayTeam      Team        `json:"awayTeam"`
	Status        GameStatus  `json:"status"`
	Period        int         `json:"period"`
	TimeRemaining string      `json:"timeRemaining"`
	Venue         string      `json:"venue,omitempty"`
	Events        []GameEvent `json:"events,omitempty"`
	LastUpdated   time.Time   `json:"lastUpdated"`
}

// Live reports whether the record is in play right now.
func (g *GameRecord) Live() bool {
	return g.Status == StatusLive
}
