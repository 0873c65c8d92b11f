// Package worker implements the multi-process update pipeline: a
// deterministic shard assignment over game ids, a supervisor that spawns
// and respawns worker processes, a line-oriented heartbeat protocol on the
// workers' stdout, and a Redis relay that carries worker-produced updates
// back to the processes holding WebSocket connections.
package worker
