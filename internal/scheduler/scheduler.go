// Package scheduler drives the live-game update loop: poll the store for
// live games, recompute their state from the external feed, persist the
// diff, and hand it to the broadcaster. Failures are classified and either
// retried with capped exponential backoff or skipped.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/metrics"
	"github.com/scorepulse/scorepulse/internal/platform/retry"
	"github.com/scorepulse/scorepulse/internal/strategy"
)

const latencyWindow = 64

// Config carries the externally supplied scheduling knobs. No default here
// is load-bearing; everything comes from configuration.
type Config struct {
	PollInterval      time.Duration
	UpdateTimeout     time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffCap        time.Duration
	Cooldown          time.Duration
	StoreReconnectMax int
}

// ShardFilter reports whether this process owns a game. nil means all games.
type ShardFilter func(gameID string) bool

// Stats is the scheduler state the health monitor pulls.
type Stats struct {
	LastPollSuccess  time.Time
	Halted           bool
	ErrorCount       uint64
	AvgUpdateLatency time.Duration
	GamesInCooldown  int
	AssignedGames    int
}

// retryState tracks per-game failure accounting across poll cycles.
type retryState struct {
	attempts      int
	backoff       time.Duration
	nextRetryAt   time.Time
	cooldownUntil time.Time
}

type Scheduler struct {
	store       domain.GameStore
	feed        domain.FeedProvider
	strategies  *strategy.Registry
	broadcaster domain.Broadcaster
	clock       clockwork.Clock
	cfg         Config
	shard       ShardFilter

	mu            sync.Mutex
	retries       map[string]*retryState
	inFlight      map[string]struct{}
	lastSuccess   time.Time
	errorCount    uint64
	latencies     []time.Duration
	assignedGames int
	halted        bool

	wg sync.WaitGroup
}

// New creates a scheduler. shard may be nil when this process owns every game.
func New(store domain.GameStore, feed domain.FeedProvider, strategies *strategy.Registry,
	broadcaster domain.Broadcaster, clock clockwork.Clock, cfg Config, shard ShardFilter) *Scheduler {
	return &Scheduler{
		store:       store,
		feed:        feed,
		strategies:  strategies,
		broadcaster: broadcaster,
		clock:       clock,
		cfg:         cfg,
		shard:       shard,
		retries:     make(map[string]*retryState),
		inFlight:    make(map[string]struct{}),
	}
}

// Run executes poll cycles until ctx is cancelled or the store stays
// unreachable beyond the reconnect budget. It never panics the process:
// a dead store halts polling and is surfaced through Stats.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "poll_interval", s.cfg.PollInterval)

	if !s.pollCycle(ctx) {
		s.drain()
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopping, draining in-flight updates")
			s.drain()
			return
		case <-ticker.Chan():
			if !s.pollCycle(ctx) {
				s.drain()
				return
			}
		}
	}
}

// drain waits for in-flight updates to finish or time out.
func (s *Scheduler) drain() {
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Stats returns a snapshot of scheduler health.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cooldowns := 0
	for _, rs := range s.retries {
		if rs.cooldownUntil.After(now) {
			cooldowns++
		}
	}

	return Stats{
		LastPollSuccess:  s.lastSuccess,
		Halted:           s.halted,
		ErrorCount:       s.errorCount,
		AvgUpdateLatency: s.avgLatencyLocked(),
		GamesInCooldown:  cooldowns,
		AssignedGames:    s.assignedGames,
	}
}

// pollCycle runs one poll pass. Returns false when polling must halt.
func (s *Scheduler) pollCycle(ctx context.Context) bool {
	games, err := s.store.FindLive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if !domain.StoreUnavailable(err) {
			slog.Error("Poll failed", "error", err)
			s.recordError()
			metrics.SchedulerCyclesTotal.WithLabelValues("error").Inc()
			return true
		}
		return s.reconnectStore(ctx)
	}

	owned := 0
	for _, game := range games {
		if s.shard == nil || s.shard(game.ID) {
			owned++
		}
	}

	s.mu.Lock()
	s.lastSuccess = s.clock.Now()
	s.assignedGames = owned
	s.mu.Unlock()

	for _, game := range games {
		if s.shard != nil && !s.shard(game.ID) {
			continue
		}
		if !s.claim(game.ID) {
			continue
		}

		s.wg.Add(1)
		go func(game domain.GameRecord) {
			defer s.wg.Done()
			defer s.release(game.ID)
			s.processGame(ctx, game)
		}(game)
	}

	metrics.SchedulerCyclesTotal.WithLabelValues("ok").Inc()
	return true
}

// claim reserves a game for this cycle. It refuses games that are still
// being updated from a previous cycle (single-writer per game id), games
// in a cooldown window, and games whose next retry is in the future.
func (s *Scheduler) claim(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[gameID]; busy {
		return false
	}

	now := s.clock.Now()
	if rs, ok := s.retries[gameID]; ok {
		if rs.cooldownUntil.After(now) || rs.nextRetryAt.After(now) {
			return false
		}
		// The cooldown lapsed; the game leaves the window on admission.
		if !rs.cooldownUntil.IsZero() {
			rs.cooldownUntil = time.Time{}
			metrics.SchedulerGamesInCooldown.Dec()
		}
	}

	s.inFlight[gameID] = struct{}{}
	return true
}

func (s *Scheduler) release(gameID string) {
	s.mu.Lock()
	delete(s.inFlight, gameID)
	s.mu.Unlock()
}

// processGame runs one update for one game. A failure here never affects
// any other game's update.
func (s *Scheduler) processGame(ctx context.Context, game domain.GameRecord) {
	start := s.clock.Now()

	gctx := ctx
	if s.cfg.UpdateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.cfg.UpdateTimeout)
		defer cancel()
	}

	strat, err := s.strategies.Resolve(game.League)
	if err != nil {
		// Unsupported league: logged and skipped, never retried.
		slog.Warn("Skipping game", "game_id", game.ID, "league", game.League, "error", err)
		s.recordError()
		metrics.SchedulerUpdateErrorsTotal.WithLabelValues("permanent").Inc()
		return
	}

	snap, err := s.feed.FetchGame(gctx, game.League, game.ID)
	if err != nil {
		s.handleFailure(game.ID, err)
		return
	}

	diff, err := strat.ComputeUpdate(game, snap)
	if err != nil {
		s.handleFailure(game.ID, err)
		return
	}

	if diff.Empty() {
		// Identical snapshot: nothing to persist, nothing to broadcast.
		s.clearRetryState(game.ID)
		return
	}

	if err := s.store.ApplyDiff(gctx, game.ID, diff, s.clock.Now()); err != nil {
		s.handleFailure(game.ID, err)
		return
	}

	update := domain.BuildUpdate(game.ID, game.League, diff)
	s.broadcaster.Broadcast(game.League, update)
	s.broadcaster.Broadcast(game.ID, update)

	elapsed := s.clock.Since(start)
	metrics.SchedulerUpdateDuration.Observe(elapsed.Seconds())
	s.observeLatency(elapsed)
	s.clearRetryState(game.ID)

	slog.Debug("Game updated", "game_id", game.ID, "league", game.League, "duration", elapsed)
}

// handleFailure classifies an update error. Permanent failures skip the
// game for this cycle only; transient ones accrue attempts with
// non-decreasing backoff until the cap, then enter a cooldown window.
func (s *Scheduler) handleFailure(gameID string, err error) {
	if domain.Permanent(err) {
		slog.Warn("Permanent update failure, skipping cycle", "game_id", gameID, "error", err)
		s.recordError()
		metrics.SchedulerUpdateErrorsTotal.WithLabelValues("permanent").Inc()
		return
	}

	s.recordError()
	metrics.SchedulerUpdateErrorsTotal.WithLabelValues("transient").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.retries[gameID]
	if !ok {
		rs = &retryState{}
		s.retries[gameID] = rs
	}

	rs.attempts++
	now := s.clock.Now()

	if rs.attempts >= s.cfg.MaxAttempts {
		rs.cooldownUntil = now.Add(s.cfg.Cooldown)
		rs.attempts = 0
		rs.backoff = 0
		rs.nextRetryAt = time.Time{}
		metrics.SchedulerGamesInCooldown.Inc()
		slog.Warn("Game entering cooldown after repeated failures",
			"game_id", gameID, "cooldown", s.cfg.Cooldown, "error", err)
		return
	}

	if rs.backoff == 0 {
		rs.backoff = s.cfg.InitialBackoff
	} else {
		rs.backoff = retry.Next(rs.backoff, s.cfg.BackoffCap)
	}
	rs.nextRetryAt = now.Add(rs.backoff)

	slog.Warn("Transient update failure, will retry",
		"game_id", gameID, "attempt", rs.attempts, "backoff", rs.backoff, "error", err)
}

func (s *Scheduler) clearRetryState(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.retries[gameID]; ok {
		if rs.cooldownUntil.After(s.clock.Now()) {
			metrics.SchedulerGamesInCooldown.Dec()
		}
		delete(s.retries, gameID)
	}
}

// reconnectStore attempts bounded, backoff-governed pings until the store
// answers. Exhausting the budget halts polling; the process stays alive
// and reports unhealthy for external restart orchestration.
func (s *Scheduler) reconnectStore(ctx context.Context) bool {
	if s.cfg.StoreReconnectMax < 1 {
		slog.Error("Store unreachable with no reconnect budget, halting polling")
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		return false
	}

	slog.Warn("Store unreachable, attempting reconnection",
		"max_attempts", s.cfg.StoreReconnectMax)

	policy := retry.Policy{
		MaxAttempts:    s.cfg.StoreReconnectMax,
		InitialBackoff: s.cfg.InitialBackoff,
		MaxBackoff:     s.cfg.BackoffCap,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			metrics.SchedulerStoreReconnectsTotal.Inc()
			slog.Warn("Store reconnect failed", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	classify := func(error) retry.Action { return retry.Retry }

	err := retry.DoVoid(ctx, policy, classify, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, s.cfg.UpdateTimeout)
		defer cancel()
		return s.store.Ping(pingCtx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Error("Store unreachable beyond reconnect budget, halting polling", "error", err)
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		return false
	}

	slog.Info("Store connection restored")
	return true
}

func (s *Scheduler) recordError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

func (s *Scheduler) observeLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[1:]
	}
}

func (s *Scheduler) avgLatencyLocked() time.Duration {
	if len(s.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.latencies {
		sum += d
	}
	return sum / time.Duration(len(s.latencies))
}
