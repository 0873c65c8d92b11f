// Package broadcast owns the WebSocket fan-out path: a single actor
// goroutine tracks registered connections and their channel subscriptions,
// and pushes serialized game updates to every subscriber of a channel.
// Each connection gets a dedicated writer goroutine with a bounded send
// buffer; a subscriber that cannot drain its buffer is evicted rather than
// allowed to stall the fan-out.
package broadcast
