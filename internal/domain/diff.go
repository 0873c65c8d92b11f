package domain

// Diff field paths understood by the store and the broadcast payload builder.
const (
	FieldStatus        = "status"
	FieldHomeScore     = "homeTeam.score"
	FieldAwayScore     = "awayTeam.score"
	FieldPeriod        = "period"
	FieldTimeRemaining = "timeRemaining"
	FieldEvents        = "events"
)

// Diff is a field-scoped partial update, keyed by field path. Only the
// fields present are persisted; untouched fields are never clobbered.
type Diff map[string]any

// Empty reports whether the diff carries no changes. An empty diff must
// not be persisted or broadcast.
func (d Diff) Empty() bool {
	return len(d) == 0
}

// AppendEvents merges events into the diff's event list.
func (d Diff) AppendEvents(events ...GameEvent) {
	existing, _ := d[FieldEvents].([]GameEvent)
	d[FieldEvents] = append(existing, events...)
}

// GameUpdate is the broadcast payload built from a diff. Pointer fields
// distinguish "unchanged" from zero values so clients only see what moved.
type GameUpdate struct {
	GameID        string      `json:"gameId"`
	League        string      `json:"league"`
	Status        GameStatus  `json:"status,omitempty"`
	HomeScore     *int        `json:"homeScore,omitempty"`
	AwayScore     *int        `json:"awayScore,omitempty"`
	Period        *int        `json:"period,omitempty"`
	TimeRemaining *string     `json:"timeRemaining,omitempty"`
	Events        []GameEvent `json:"events,omitempty"`
}

// BuildUpdate flattens a diff into the wire payload for the game's channels.
func BuildUpdate(gameID, league string, diff Diff) GameUpdate {
	u := GameUpdate{GameID: gameID, League: league}
	if v, ok := diff[FieldStatus].(GameStatus); ok {
		u.Status = v
	}
	if v, ok := diff[FieldHomeScore].(int); ok {
		u.HomeScore = &v
	}
	if v, ok := diff[FieldAwayScore].(int); ok {
		u.AwayScore = &v
	}
	if v, ok := diff[FieldPeriod].(int); ok {
		u.Period = &v
	}
	if v, ok := diff[FieldTimeRemaining].(string); ok {
		u.TimeRemaining = &v
	}
	if v, ok := diff[FieldEvents].([]GameEvent); ok {
		u.Events = v
	}
	return u
}
