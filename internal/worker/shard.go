package worker

import (
	"hash/fnv"

	"github.com/scorepulse/scorepulse/internal/scheduler"
)

// Owns reports whether the worker at index owns a game id under a pool of
// count workers. The assignment is a pure function of the id, so every
// process computes the same owner and no two workers ever update the same
// game.
func Owns(gameID string, index, count int) bool {
	if count <= 1 {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(gameID))
	return int(h.Sum32()%uint32(count)) == index
}

// Filter adapts the shard assignment to the scheduler's claim check.
func Filter(index, count int) scheduler.ShardFilter {
	return func(gameID string) bool {
		return Owns(gameID, index, count)
	}
}
