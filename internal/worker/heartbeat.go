package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Heartbeater periodically writes heartbeat lines for the supervisor. It
// runs in worker processes, writing to stdout; logs go to stderr so the
// protocol stream stays clean.
type Heartbeater struct {
	out      io.Writer
	index    int
	interval time.Duration
	clock    clockwork.Clock
	games    func() int
}

// NewHeartbeater builds a heartbeater. games reports the worker's current
// assigned-game count and may be nil.
func NewHeartbeater(out io.Writer, index int, interval time.Duration, clock clockwork.Clock, games func() int) *Heartbeater {
	return &Heartbeater{out: out, index: index, interval: interval, clock: clock, games: games}
}

// Run emits heartbeats until ctx is cancelled, then a final stopping
// heartbeat so the supervisor can tell a graceful exit from a crash.
func (h *Heartbeater) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.emit(StatusRunning)

	for {
		select {
		case <-ctx.Done():
			h.emit(StatusStopping)
			return
		case <-ticker.Chan():
			h.emit(StatusRunning)
		}
	}
}

func (h *Heartbeater) emit(status string) {
	games := 0
	if h.games != nil {
		games = h.games()
	}
	line, err := EncodeLine(Message{
		Type:        MessageHeartbeat,
		WorkerIndex: h.index,
		Status:      status,
		Games:       games,
		Timestamp:   h.clock.Now().UTC(),
	})
	if err != nil {
		slog.Error("Failed to encode heartbeat", "error", err)
		return
	}
	if _, err := h.out.Write(line); err != nil {
		slog.Error("Failed to write heartbeat", "error", err)
	}
}
