// Package health aggregates subsystem state into a single pull-based
// status: healthy, degraded (one subsystem impaired), or unhealthy.
package health

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/metrics"
	"github.com/scorepulse/scorepulse/internal/scheduler"
)

const pingTimeout = 2 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	componentOK       = "ok"
	componentImpaired = "impaired"
)

// Snapshot is the aggregated state returned to health probes.
type Snapshot struct {
	Status     Status            `json:"status"`
	Components map[string]string `json:"components"`
	Metrics    Metrics           `json:"metrics"`
}

// Metrics carries the operational numbers probes alert on.
type Metrics struct {
	ActiveConnections  int     `json:"activeConnections"`
	GamesInCooldown    int     `json:"gamesInCooldown"`
	UpdateErrors       uint64  `json:"updateErrors"`
	AvgUpdateLatencyMs float64 `json:"avgUpdateLatencyMs"`
	LastPollAgeSeconds float64 `json:"lastPollAgeSeconds"`
}

// Monitor evaluates subsystem health on demand. It holds no state beyond
// its start time; every Snapshot call inspects the live subsystems.
type Monitor struct {
	store          domain.GameStore
	schedulerStats func() scheduler.Stats
	connections    func() int
	clock          clockwork.Clock
	staleAfter     time.Duration
	startedAt      time.Time
}

// New creates a monitor. pollInterval sets the scheduler staleness
// threshold: three missed polls in a row count as impaired.
func New(store domain.GameStore, schedulerStats func() scheduler.Stats, connections func() int,
	clock clockwork.Clock, pollInterval time.Duration) *Monitor {
	return &Monitor{
		store:          store,
		schedulerStats: schedulerStats,
		connections:    connections,
		clock:          clock,
		staleAfter:     3 * pollInterval,
		startedAt:      clock.Now(),
	}
}

// Snapshot inspects every subsystem and aggregates a status.
//
// The scheduler being halted means the store stayed unreachable beyond the
// reconnect budget: that is unhealthy on its own. Otherwise one impaired
// subsystem degrades the service and two or more make it unhealthy.
func (m *Monitor) Snapshot(ctx context.Context) Snapshot {
	stats := m.schedulerStats()
	conns := m.connections()

	components := map[string]string{
		"store":       componentOK,
		"scheduler":   componentOK,
		"connections": componentOK,
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := m.store.Ping(pingCtx); err != nil {
		components["store"] = componentImpaired
	}

	if stats.Halted || m.schedulerStale(stats) {
		components["scheduler"] = componentImpaired
	}

	// A negative count means the hub actor is not answering commands.
	if conns < 0 {
		components["connections"] = componentImpaired
		conns = 0
	}

	status := StatusHealthy
	switch impairedCount(components) {
	case 0:
	case 1:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}
	if stats.Halted {
		status = StatusUnhealthy
	}

	metrics.HealthStatus.Set(statusGaugeValue(status))

	return Snapshot{
		Status:     status,
		Components: components,
		Metrics: Metrics{
			ActiveConnections:  conns,
			GamesInCooldown:    stats.GamesInCooldown,
			UpdateErrors:       stats.ErrorCount,
			AvgUpdateLatencyMs: float64(stats.AvgUpdateLatency) / float64(time.Millisecond),
			LastPollAgeSeconds: m.pollAge(stats).Seconds(),
		},
	}
}

// schedulerStale reports whether the poll loop has missed several cycles.
// Before the first successful poll, age is measured from monitor start so
// a fresh process gets a grace window instead of reporting stale.
func (m *Monitor) schedulerStale(stats scheduler.Stats) bool {
	return m.pollAge(stats) > m.staleAfter
}

func (m *Monitor) pollAge(stats scheduler.Stats) time.Duration {
	since := stats.LastPollSuccess
	if since.IsZero() {
		since = m.startedAt
	}
	return m.clock.Since(since)
}

func impairedCount(components map[string]string) int {
	n := 0
	for _, state := range components {
		if state != componentOK {
			n++
		}
	}
	return n
}

func statusGaugeValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
