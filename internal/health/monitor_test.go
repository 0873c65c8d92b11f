package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/scheduler"
)

type pingStore struct {
	err error
}

func (p *pingStore) FindLive(context.Context) ([]domain.GameRecord, error) { return nil, nil }
func (p *pingStore) Get(context.Context, string) (domain.GameRecord, error) {
	return domain.GameRecord{}, domain.ErrGameNotFound
}
func (p *pingStore) ApplyDiff(context.Context, string, domain.Diff, time.Time) error { return nil }
func (p *pingStore) Ping(context.Context) error                                      { return p.err }

type fixture struct {
	store *pingStore
	stats scheduler.Stats
	conns int
	clock *clockwork.FakeClock
}

func (f *fixture) monitor() *Monitor {
	return New(f.store, func() scheduler.Stats { return f.stats }, func() int { return f.conns },
		f.clock, 5*time.Second)
}

func newFixture() *fixture {
	return &fixture{store: &pingStore{}, conns: 3, clock: clockwork.NewFakeClock()}
}

func TestSnapshot_AllSubsystemsHealthy(t *testing.T) {
	f := newFixture()
	f.stats = scheduler.Stats{LastPollSuccess: f.clock.Now()}

	snap := f.monitor().Snapshot(context.Background())

	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Equal(t, "ok", snap.Components["store"])
	assert.Equal(t, "ok", snap.Components["scheduler"])
	assert.Equal(t, "ok", snap.Components["connections"])
	assert.Equal(t, 3, snap.Metrics.ActiveConnections)
}

func TestSnapshot_StorePingFailureDegrades(t *testing.T) {
	f := newFixture()
	f.stats = scheduler.Stats{LastPollSuccess: f.clock.Now()}
	f.store.err = errors.New("connection refused")

	snap := f.monitor().Snapshot(context.Background())

	assert.Equal(t, StatusDegraded, snap.Status)
	assert.Equal(t, "impaired", snap.Components["store"])
	assert.Equal(t, "ok", snap.Components["scheduler"])
}

func TestSnapshot_HaltedSchedulerIsUnhealthy(t *testing.T) {
	f := newFixture()
	f.stats = scheduler.Stats{Halted: true, LastPollSuccess: f.clock.Now()}

	snap := f.monitor().Snapshot(context.Background())

	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, "impaired", snap.Components["scheduler"])
}

func TestSnapshot_StaleSchedulerDegrades(t *testing.T) {
	f := newFixture()
	m := f.monitor()
	f.stats = scheduler.Stats{LastPollSuccess: f.clock.Now()}

	// Three missed polls push the scheduler past the staleness threshold.
	f.clock.Advance(16 * time.Second)

	snap := m.Snapshot(context.Background())
	assert.Equal(t, StatusDegraded, snap.Status)
	assert.Equal(t, "impaired", snap.Components["scheduler"])
	assert.InDelta(t, 16.0, snap.Metrics.LastPollAgeSeconds, 0.01)
}

func TestSnapshot_TwoImpairedSubsystemsAreUnhealthy(t *testing.T) {
	f := newFixture()
	m := f.monitor()
	f.store.err = errors.New("connection refused")
	f.stats = scheduler.Stats{LastPollSuccess: f.clock.Now()}
	f.clock.Advance(16 * time.Second)

	snap := m.Snapshot(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Status)
}

func TestSnapshot_StartupGraceWindow(t *testing.T) {
	f := newFixture()
	m := f.monitor()

	// No poll has succeeded yet; inside the grace window this is healthy.
	snap := m.Snapshot(context.Background())
	assert.Equal(t, StatusHealthy, snap.Status)

	// The grace window is measured from monitor start.
	f.clock.Advance(16 * time.Second)
	snap = m.Snapshot(context.Background())
	assert.Equal(t, StatusDegraded, snap.Status)
}

func TestSnapshot_UnresponsiveHubImpairsConnections(t *testing.T) {
	f := newFixture()
	f.stats = scheduler.Stats{LastPollSuccess: f.clock.Now()}
	f.conns = -1

	snap := f.monitor().Snapshot(context.Background())

	assert.Equal(t, StatusDegraded, snap.Status)
	assert.Equal(t, "impaired", snap.Components["connections"])
	assert.Zero(t, snap.Metrics.ActiveConnections)
}

func TestSnapshot_ReportsSchedulerMetrics(t *testing.T) {
	f := newFixture()
	f.stats = scheduler.Stats{
		LastPollSuccess:  f.clock.Now(),
		ErrorCount:       7,
		GamesInCooldown:  2,
		AvgUpdateLatency: 150 * time.Millisecond,
	}

	snap := f.monitor().Snapshot(context.Background())

	assert.Equal(t, uint64(7), snap.Metrics.UpdateErrors)
	assert.Equal(t, 2, snap.Metrics.GamesInCooldown)
	assert.InDelta(t, 150.0, snap.Metrics.AvgUpdateLatencyMs, 0.01)
}
