package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/scorepulse/scorepulse/internal/metrics"
)

const (
	writeDeadline       = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	idleTimeout         = 5 * time.Minute
	idleWarningTime     = 4 * time.Minute // Warn 1 minute before disconnect
)

// clientWriter owns all writes to one connection. It serializes broadcast
// payloads, liveness pings and the close frame onto a single goroutine so
// the hub never blocks on a socket.
type clientWriter struct {
	connection           *websocket.Conn
	clock                clockwork.Clock
	sendChannel          chan []byte
	doneChannel          chan struct{}
	compressionThreshold int
	pingInterval         time.Duration
	stopOnce             sync.Once
	wg                   sync.WaitGroup
	lastActivity         time.Time
	activityMutex        sync.Mutex
	warningSent          bool
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, cfg Config) *clientWriter {
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	cw := &clientWriter{
		connection:           connection,
		clock:                clock,
		sendChannel:          make(chan []byte, cfg.SendBufferSize),
		doneChannel:          make(chan struct{}),
		compressionThreshold: cfg.CompressionThreshold,
		pingInterval:         pingInterval,
		lastActivity:         clock.Now(),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// trySend enqueues a message without blocking. A false return means the
// client is not draining its buffer.
func (cw *clientWriter) trySend(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			start := cw.clock.Now()
			cw.updateWriteDeadline()
			// Small payloads are not worth the deflate overhead.
			cw.connection.EnableWriteCompression(cw.compressionThreshold > 0 && len(msg) >= cw.compressionThreshold)
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-ticker.Chan():
			if cw.checkIdleTimeout() {
				return
			}

			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Ping failed - client likely disconnected
				metrics.WebSocketPingFailures.Inc()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		// Signal the run goroutine to exit first, then wait for it, so the
		// close frame is never written concurrently with a broadcast.
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		cw.recordActivity()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

// A connection missing one full ping round earns a read-deadline close.
func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(2 * cw.pingInterval))
}

// recordActivity updates the last activity timestamp. The hub calls this
// whenever the client sends any message, pongs included.
func (cw *clientWriter) recordActivity() {
	cw.activityMutex.Lock()
	defer cw.activityMutex.Unlock()
	cw.lastActivity = cw.clock.Now()
	cw.warningSent = false
}

// checkIdleTimeout reports whether the connection has been idle past the
// limit. Approaching the limit earns the client one warning frame.
func (cw *clientWriter) checkIdleTimeout() bool {
	cw.activityMutex.Lock()
	idleDuration := cw.clock.Since(cw.lastActivity)
	warningSent := cw.warningSent
	cw.activityMutex.Unlock()

	if idleDuration >= idleTimeout {
		return true
	}

	if !warningSent && idleDuration >= idleWarningTime {
		warning, err := encodeFrame(FrameSystem, "", nil,
			"Connection idle. Will disconnect if no activity within 1 minute.", cw.clock.Now())
		if err != nil {
			return false
		}
		cw.updateWriteDeadline()
		if err := cw.connection.WriteMessage(websocket.TextMessage, warning); err == nil {
			cw.activityMutex.Lock()
			cw.warningSent = true
			cw.activityMutex.Unlock()
		}
	}

	return false
}
