package domain

import "time"

// FeedSnapshot is one provider observation of a game, already mapped into
// the internal status vocabulary by the feed adapter.
type FeedSnapshot struct {
	GameID        string
	Status        GameStatus
	HomeScore     int
	AwayScore     int
	Period        int
	TimeRemaining string
	FetchedAt     time.Time
}
