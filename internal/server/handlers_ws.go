package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/scorepulse/scorepulse/internal/broadcast"
	"github.com/scorepulse/scorepulse/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
	CheckOrigin: func(r *http.Request) bool {
		return true // Token auth, not origin, gates access
	},
}

// handleWebSocket runs the admission pipeline and, on success, serves the
// connection until it closes. The stage order is fixed: per-IP cap,
// handshake rate limit, bearer token, global cap. Each stage that fails
// rolls back everything acquired before it.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if ok, reason := s.limits.AcquirePreAuth(ip); !ok {
		metrics.HandshakeRejectionsTotal.WithLabelValues(string(reason)).Inc()
		if reason == LimitReasonPerIP {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections from this address"})
		}
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "connection rate exceeded"})
	}

	identity, err := s.verifier.Verify(c.Request().Context(), extractToken(c.Request()))
	if err != nil {
		s.limits.ReleasePreAuth(ip)
		metrics.HandshakeRejectionsTotal.WithLabelValues(string(LimitReasonAuth)).Inc()
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
	}

	if !s.limits.AcquireGlobal() {
		s.limits.ReleasePreAuth(ip)
		metrics.HandshakeRejectionsTotal.WithLabelValues(string(LimitReasonGlobal)).Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server at capacity"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	clientID, err := s.hub.Register(conn, identity.Subject)
	if err != nil {
		_ = conn.Close()
		s.limits.Release(ip)
		return nil
	}

	// Blocks until the connection closes.
	s.readPump(conn, clientID)

	s.hub.Unregister(clientID)
	s.limits.Release(ip)

	return nil
}

// readPump consumes inbound control frames. Each connection gets its own
// token bucket; a client that sends too fast gets an error frame per
// rejected message but keeps its connection and subscriptions.
func (s *Server) readPump(conn *websocket.Conn, clientID uuid.UUID) {
	limiter := rate.NewLimiter(rate.Limit(s.config.MessageRate), s.config.MessageBurst)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		s.hub.Touch(clientID)

		if !limiter.Allow() {
			metrics.MessageRateLimitedTotal.Inc()
			s.hub.SendError(clientID, "message rate limit exceeded")
			continue
		}

		frame, err := broadcast.ParseInbound(raw)
		if err != nil {
			s.hub.SendError(clientID, err.Error())
			continue
		}

		switch frame.Action {
		case broadcast.ActionSubscribe:
			if err := s.hub.Subscribe(clientID, frame.Channel); err != nil {
				s.hub.SendError(clientID, "subscription failed")
			}
		case broadcast.ActionUnsubscribe:
			s.hub.Unsubscribe(clientID, frame.Channel)
		case broadcast.ActionMessage:
			// No server-side action; already counted against the rate limit.
		}
	}
}
