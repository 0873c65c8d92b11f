package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scorepulse/scorepulse/internal/metrics"
	"github.com/scorepulse/scorepulse/internal/scheduler"
)

const (
	respawnDelay = time.Second
	stopTimeout  = 10 * time.Second

	// EnvWorkerIndex and EnvWorkerCount select worker mode in a child
	// process and tell it which shard it owns.
	EnvWorkerIndex = "SCOREPULSE_WORKER_INDEX"
	EnvWorkerCount = "SCOREPULSE_WORKER_COUNT"
)

// CommandFactory builds the command for one worker process.
type CommandFactory func(index, count int) *exec.Cmd

// SelfCommand re-executes the current binary in worker mode. Worker stderr
// is passed through so its logs land with the supervisor's.
func SelfCommand() CommandFactory {
	return func(index, count int) *exec.Cmd {
		executable, err := os.Executable()
		if err != nil {
			executable = os.Args[0]
		}
		cmd := exec.Command(executable)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%d", EnvWorkerIndex, index),
			fmt.Sprintf("%s=%d", EnvWorkerCount, count),
		)
		cmd.Stderr = os.Stderr
		return cmd
	}
}

// WorkerRecord is the supervisor's view of one worker process.
type WorkerRecord struct {
	Index         int
	PID           int
	Status        string
	AssignedGames int
	LastHeartbeat time.Time
	Restarts      int
}

// Supervisor spawns count worker processes, tracks their heartbeats, kills
// workers that go silent, and respawns workers that exit. It never exits
// because a worker died; only ctx cancellation stops it.
type Supervisor struct {
	factory           CommandFactory
	count             int
	heartbeatInterval time.Duration
	clock             clockwork.Clock

	mu       sync.Mutex
	records  map[int]*WorkerRecord
	procs    map[int]*exec.Cmd
	stopping bool

	wg sync.WaitGroup
}

func NewSupervisor(factory CommandFactory, count int, heartbeatInterval time.Duration, clock clockwork.Clock) *Supervisor {
	return &Supervisor{
		factory:           factory,
		count:             count,
		heartbeatInterval: heartbeatInterval,
		clock:             clock,
		records:           make(map[int]*WorkerRecord),
		procs:             make(map[int]*exec.Cmd),
	}
}

// Run spawns the pool and supervises it until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	slog.Info("Supervisor starting worker pool", "count", s.count)

	for i := 0; i < s.count; i++ {
		cmd, err := s.launch(i)
		if err != nil {
			slog.Error("Failed to start worker", "worker_index", i, "error", err)
			continue
		}
		s.wg.Add(1)
		go s.supervise(ctx, i, cmd)
	}

	ticker := s.clock.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.Chan():
			s.killStaleWorkers()
		}
	}
}

// launch starts one worker process and wires up its heartbeat stream.
func (s *Supervisor) launch(index int) (*exec.Cmd, error) {
	cmd := s.factory(index, s.count)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout pipe: %w", index, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", index, err)
	}

	s.mu.Lock()
	record, ok := s.records[index]
	if !ok {
		record = &WorkerRecord{Index: index}
		s.records[index] = record
	}
	record.PID = cmd.Process.Pid
	record.Status = StatusRunning
	record.LastHeartbeat = s.clock.Now()
	s.procs[index] = cmd
	s.mu.Unlock()

	metrics.WorkersActive.Inc()
	slog.Info("Worker started", "worker_index", index, "pid", cmd.Process.Pid)

	go s.readHeartbeats(index, stdout)

	return cmd, nil
}

// supervise waits for a worker to exit and respawns it unless the pool is
// shutting down. One worker crashing never takes down the pool.
func (s *Supervisor) supervise(ctx context.Context, index int, cmd *exec.Cmd) {
	defer s.wg.Done()

	for {
		err := cmd.Wait()
		metrics.WorkersActive.Dec()

		s.mu.Lock()
		stopping := s.stopping
		record := s.records[index]
		record.Status = StatusExited
		s.mu.Unlock()

		if stopping {
			slog.Info("Worker exited during shutdown", "worker_index", index)
			return
		}

		slog.Warn("Worker exited, respawning", "worker_index", index, "error", err)
		metrics.WorkerRestartsTotal.Inc()

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(respawnDelay):
		}

		s.mu.Lock()
		record.Restarts++
		stopping = s.stopping
		s.mu.Unlock()
		if stopping {
			return
		}

		next, launchErr := s.launch(index)
		if launchErr != nil {
			slog.Error("Failed to respawn worker", "worker_index", index, "error", launchErr)
			return
		}
		cmd = next
	}
}

// readHeartbeats consumes one worker's stdout until the pipe closes.
func (s *Supervisor) readHeartbeats(index int, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		msg, err := DecodeLine(scanner.Bytes())
		if err != nil {
			slog.Warn("Unparseable worker output", "worker_index", index, "error", err)
			continue
		}
		if msg.Type != MessageHeartbeat {
			continue
		}

		metrics.WorkerHeartbeatsTotal.Inc()
		s.mu.Lock()
		if record, ok := s.records[index]; ok {
			record.LastHeartbeat = s.clock.Now()
			record.Status = msg.Status
			record.AssignedGames = msg.Games
		}
		s.mu.Unlock()
	}
}

// killStaleWorkers kills any worker that has not heartbeated for two
// intervals. The kill surfaces as an exit, and the supervise loop respawns.
func (s *Supervisor) killStaleWorkers() {
	staleAfter := 2 * s.heartbeatInterval
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for index, record := range s.records {
		if record.Status != StatusRunning {
			continue
		}
		if now.Sub(record.LastHeartbeat) <= staleAfter {
			continue
		}

		slog.Warn("Worker heartbeat stale, killing",
			"worker_index", index, "last_heartbeat", record.LastHeartbeat)
		record.Status = StatusStale
		if cmd := s.procs[index]; cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// shutdown signals every worker and waits for the pool to drain.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.stopping = true
	for index, cmd := range s.procs {
		if cmd.Process != nil {
			slog.Info("Signalling worker to stop", "worker_index", index)
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := s.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		slog.Info("Worker pool stopped")
	case <-timer.Chan():
		slog.Warn("Worker pool stop timeout, killing remaining workers")
		s.mu.Lock()
		for _, cmd := range s.procs {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		s.mu.Unlock()
		<-done
	}
}

// Records returns a snapshot of the pool state.
func (s *Supervisor) Records() []WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, *record)
	}
	return out
}

// Stats maps pool state onto the scheduler stats the health monitor pulls.
// In supervisor mode the primary runs no poll loop of its own: the latest
// worker heartbeat stands in for poll liveness, and a fully dead pool
// outside shutdown reports as halted.
func (s *Supervisor) Stats() scheduler.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	restarts := 0
	alive := 0
	for _, record := range s.records {
		if record.LastHeartbeat.After(latest) {
			latest = record.LastHeartbeat
		}
		restarts += record.Restarts
		if record.Status == StatusRunning {
			alive++
		}
	}

	return scheduler.Stats{
		LastPollSuccess: latest,
		Halted:          !s.stopping && len(s.records) > 0 && alive == 0,
		ErrorCount:      uint64(restarts),
	}
}
