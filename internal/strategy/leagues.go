package strategy

import (
	"fmt"

	"github.com/scorepulse/scorepulse/internal/domain"
)

// Basketball covers quarter-based leagues (four quarters, then overtime).
// Scores never decrease.
type Basketball struct {
	league string
}

func NewBasketball(league string) *Basketball {
	return &Basketball{league: league}
}

func (b *Basketball) League() string { return b.league }

func (b *Basketball) ComputeUpdate(prior domain.GameRecord, snap domain.FeedSnapshot) (domain.Diff, error) {
	return computeDiff(prior, snap, rules{
		periodLabel: quarterLabel,
	})
}

func quarterLabel(period int) string {
	if period > 4 {
		return fmt.Sprintf("OT%d", period-4)
	}
	return fmt.Sprintf("Q%d", period)
}

// Hockey covers three-period leagues with overtime and shootout.
// Scores never decrease.
type Hockey struct {
	league string
}

func NewHockey(league string) *Hockey {
	return &Hockey{league: league}
}

func (h *Hockey) League() string { return h.league }

func (h *Hockey) ComputeUpdate(prior domain.GameRecord, snap domain.FeedSnapshot) (domain.Diff, error) {
	return computeDiff(prior, snap, rules{
		periodLabel: hockeyPeriodLabel,
	})
}

func hockeyPeriodLabel(period int) string {
	switch period {
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	case 4:
		return "OT"
	default:
		return "SO"
	}
}

// Soccer covers two-half leagues. A VAR review can revoke a goal, so
// score decreases are accepted rather than rejected as malformed.
type Soccer struct {
	league string
}

func NewSoccer(league string) *Soccer {
	return &Soccer{league: league}
}

func (s *Soccer) League() string { return s.league }

func (s *Soccer) ComputeUpdate(prior domain.GameRecord, snap domain.FeedSnapshot) (domain.Diff, error) {
	return computeDiff(prior, snap, rules{
		allowScoreDecrease: true,
		periodLabel:        halfLabel,
	})
}

func halfLabel(period int) string {
	switch period {
	case 1:
		return "1st half"
	case 2:
		return "2nd half"
	case 3, 4:
		return "extra time"
	default:
		return "penalties"
	}
}
