// Package strategy computes field-scoped game diffs from external feed
// snapshots. One strategy per league, resolved through a registry so new
// leagues plug in without touching dispatch logic.
package strategy

import (
	"fmt"
	"sync"

	"github.com/scorepulse/scorepulse/internal/domain"
)

// Registry resolves an update strategy by league code.
type Registry struct {
	mu       sync.RWMutex
	byLeague map[string]domain.UpdateStrategy
}

func NewRegistry() *Registry {
	return &Registry{byLeague: make(map[string]domain.UpdateStrategy)}
}

// Register adds (or replaces) the strategy for its league.
func (r *Registry) Register(s domain.UpdateStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLeague[s.League()] = s
}

// Resolve returns the strategy for a league, or ErrUnsupportedLeague.
func (r *Registry) Resolve(league string) (domain.UpdateStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byLeague[league]
	if !ok {
		return nil, fmt.Errorf("league %q: %w", league, domain.ErrUnsupportedLeague)
	}
	return s, nil
}

// Leagues returns the registered league codes.
func (r *Registry) Leagues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	leagues := make([]string, 0, len(r.byLeague))
	for l := range r.byLeague {
		leagues = append(leagues, l)
	}
	return leagues
}

// DefaultRegistry returns a registry with every built-in league strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewBasketball("NBA"))
	r.Register(NewHockey("NHL"))
	r.Register(NewSoccer("MLS"))
	r.Register(NewSoccer("EPL"))
	return r
}

// rules captures the per-league differences the shared diff core cares about.
type rules struct {
	allowScoreDecrease bool // soccer: VAR can revoke a goal
	periodLabel        func(period int) string
}

// computeDiff is the shared core: compare a prior record against a feed
// snapshot and emit only the fields that changed. Reapplying an identical
// snapshot yields an empty diff.
func computeDiff(prior domain.GameRecord, snap domain.FeedSnapshot, r rules) (domain.Diff, error) {
	if !snap.Status.Valid() {
		return nil, &domain.ValidationError{GameID: prior.ID, Reason: fmt.Sprintf("unknown status %q", snap.Status)}
	}
	if snap.HomeScore < 0 || snap.AwayScore < 0 {
		return nil, &domain.ValidationError{GameID: prior.ID, Reason: "negative score"}
	}
	if snap.Period < 0 {
		return nil, &domain.ValidationError{GameID: prior.ID, Reason: "negative period"}
	}
	if prior.Status.Terminal() {
		return domain.Diff{}, nil
	}

	diff := domain.Diff{}

	if snap.Status != prior.Status {
		if !prior.Status.CanTransitionTo(snap.Status) {
			return nil, &domain.ValidationError{
				GameID: prior.ID,
				Reason: fmt.Sprintf("illegal transition %s -> %s", prior.Status, snap.Status),
			}
		}
		diff[domain.FieldStatus] = snap.Status
	}

	if snap.Period != prior.Period {
		if snap.Period < prior.Period {
			return nil, &domain.ValidationError{GameID: prior.ID, Reason: "period went backwards"}
		}
		diff[domain.FieldPeriod] = snap.Period
		diff.AppendEvents(domain.GameEvent{
			Type:        "period",
			Period:      snap.Period,
			Description: r.periodLabel(snap.Period),
			At:          snap.FetchedAt,
		})
	}

	if snap.HomeScore != prior.HomeTeam.Score {
		if snap.HomeScore < prior.HomeTeam.Score && !r.allowScoreDecrease {
			return nil, &domain.ValidationError{GameID: prior.ID, Reason: "home score decreased"}
		}
		diff[domain.FieldHomeScore] = snap.HomeScore
		diff.AppendEvents(scoreEvent("home", prior.HomeTeam.Name, snap.HomeScore, snap))
	}

	if snap.AwayScore != prior.AwayTeam.Score {
		if snap.AwayScore < prior.AwayTeam.Score && !r.allowScoreDecrease {
			return nil, &domain.ValidationError{GameID: prior.ID, Reason: "away score decreased"}
		}
		diff[domain.FieldAwayScore] = snap.AwayScore
		diff.AppendEvents(scoreEvent("away", prior.AwayTeam.Name, snap.AwayScore, snap))
	}

	if snap.TimeRemaining != prior.TimeRemaining {
		diff[domain.FieldTimeRemaining] = snap.TimeRemaining
	}

	return diff, nil
}

func scoreEvent(side, teamName string, score int, snap domain.FeedSnapshot) domain.GameEvent {
	return domain.GameEvent{
		Type:        "score",
		Period:      snap.Period,
		Team:        side,
		Description: fmt.Sprintf("%s %d", teamName, score),
		At:          snap.FetchedAt,
	}
}
