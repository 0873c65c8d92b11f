package broadcast

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/metrics"
)

const (
	commandTimeout     = 5 * time.Second // Actor command timeout
	stopTimeout        = 10 * time.Second
	cmdChannelCapacity = 256
)

// Config carries the per-connection knobs the hub hands to each writer.
// PingInterval defaults to 30s when zero.
type Config struct {
	SendBufferSize       int
	CompressionThreshold int
	PingInterval         time.Duration
}

// client is one registered connection with its dedicated writer.
type client struct {
	id      uuid.UUID
	subject string
	conn    *websocket.Conn
	writer  *clientWriter
}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection *websocket.Conn
	subject    string
	reply      chan uuid.UUID
}

type unregisterCmd struct {
	baseHubCmd
	clientID uuid.UUID
}

type subscribeCmd struct {
	baseHubCmd
	clientID uuid.UUID
	channel  string
	reply    chan error
}

type unsubscribeCmd struct {
	baseHubCmd
	clientID uuid.UUID
	channel  string
}

type broadcastCmd struct {
	baseHubCmd
	channel string
	payload []byte
	reply   chan int
}

type directCmd struct {
	baseHubCmd
	clientID uuid.UUID
	payload  []byte
}

type touchCmd struct {
	baseHubCmd
	clientID uuid.UUID
}

type clientCountCmd struct {
	baseHubCmd
	reply chan int
}

type subscriberCountCmd struct {
	baseHubCmd
	channel string
	reply   chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the connection registry and fan-out engine. All state lives in a
// single actor goroutine; public methods communicate over the command
// channel, so no mutex guards the maps.
type Hub struct {
	cmdCh chan hubCmd
	clock clockwork.Clock
	cfg   Config
	done  chan struct{}

	clients          map[uuid.UUID]*client
	subsByChannel    map[string]map[uuid.UUID]struct{}
	channelsByClient map[uuid.UUID]map[string]struct{}
}

// NewHub creates the hub and starts its actor goroutine.
func NewHub(clock clockwork.Clock, cfg Config) *Hub {
	h := &Hub{
		cmdCh:            make(chan hubCmd, cmdChannelCapacity),
		clock:            clock,
		cfg:              cfg,
		done:             make(chan struct{}),
		clients:          make(map[uuid.UUID]*client),
		subsByChannel:    make(map[string]map[uuid.UUID]struct{}),
		channelsByClient: make(map[uuid.UUID]map[string]struct{}),
	}
	go h.run()
	return h
}

// Register adds an authenticated connection and returns its id. The id is
// the handle for every later subscription and teardown call.
func (h *Hub) Register(conn *websocket.Conn, subject string) (uuid.UUID, error) {
	reply := make(chan uuid.UUID, 1)
	h.cmdCh <- registerCmd{connection: conn, subject: subject, reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-reply:
		return id, nil
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection and all of its subscriptions.
func (h *Hub) Unregister(clientID uuid.UUID) {
	h.cmdCh <- unregisterCmd{clientID: clientID}
}

// Subscribe adds the connection to a channel. Subscribing twice to the
// same channel is a no-op.
func (h *Hub) Subscribe(clientID uuid.UUID, channel string) error {
	reply := make(chan error, 1)
	h.cmdCh <- subscribeCmd{clientID: clientID, channel: channel, reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-reply:
		return err
	case <-timer.Chan():
		return fmt.Errorf("subscribe command timed out after %v", commandTimeout)
	}
}

// Unsubscribe removes the connection from a channel.
func (h *Hub) Unsubscribe(clientID uuid.UUID, channel string) {
	h.cmdCh <- unsubscribeCmd{clientID: clientID, channel: channel}
}

// Broadcast serializes the update once and enqueues it to every subscriber
// of the channel. It returns the number of connections the message was
// delivered to; subscribers that cannot keep up are evicted instead of
// counted.
func (h *Hub) Broadcast(channel string, update domain.GameUpdate) int {
	payload, err := encodeFrame(FrameBroadcast, channel, update, "", h.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal broadcast frame", "channel", channel, "error", err)
		return 0
	}

	reply := make(chan int, 1)
	h.cmdCh <- broadcastCmd{channel: channel, payload: payload, reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case delivered := <-reply:
		return delivered
	case <-timer.Chan():
		slog.Warn("Broadcast command timed out", "channel", channel, "timeout", commandTimeout)
		return 0
	}
}

// SendError pushes an error frame to one connection without closing it.
func (h *Hub) SendError(clientID uuid.UUID, message string) {
	payload, err := encodeFrame(FrameError, "", nil, message, h.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal error frame", "error", err)
		return
	}
	h.cmdCh <- directCmd{clientID: clientID, payload: payload}
}

// Touch records client activity so inbound traffic counts against the idle
// timeout, not just pongs.
func (h *Hub) Touch(clientID uuid.UUID) {
	h.cmdCh <- touchCmd{clientID: clientID}
}

// ClientCount returns the number of registered connections, or -1 if the
// command times out.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)
	h.cmdCh <- clientCountCmd{reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-reply:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// SubscriberCount returns the number of connections subscribed to a
// channel, or -1 if the command times out.
func (h *Hub) SubscriberCount(channel string) int {
	reply := make(chan int, 1)
	h.cmdCh <- subscriberCountCmd{channel: channel, reply: reply}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-reply:
		return count
	case <-timer.Chan():
		return -1
	}
}

// Stop closes every connection with a shutdown notice and waits for the
// actor goroutine to exit.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timeout := h.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Broadcast hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcast hub stop timeout exceeded, forcing exit", "timeout", stopTimeout)
		close(h.done)
	}
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast hub panic recovered", "panic", r)
			h.closeAllClients("internal error")
		}
	}()
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.clientID)
		case subscribeCmd:
			c.reply <- h.handleSubscribe(c.clientID, c.channel)
		case unsubscribeCmd:
			h.handleUnsubscribe(c.clientID, c.channel)
		case broadcastCmd:
			c.reply <- h.handleBroadcast(c.channel, c.payload)
		case directCmd:
			if cl, ok := h.clients[c.clientID]; ok {
				cl.writer.trySend(c.payload)
			}
		case touchCmd:
			if cl, ok := h.clients[c.clientID]; ok {
				cl.writer.recordActivity()
			}
		case clientCountCmd:
			c.reply <- len(h.clients)
		case subscriberCountCmd:
			c.reply <- len(h.subsByChannel[c.channel])
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Broadcast hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	id := uuid.New()
	cl := &client{
		id:      id,
		subject: c.subject,
		conn:    c.connection,
		writer:  newClientWriter(c.connection, h.clock, h.cfg),
	}
	h.clients[id] = cl
	h.channelsByClient[id] = make(map[string]struct{})

	metrics.BroadcastActiveConnections.Set(float64(len(h.clients)))
	slog.Debug("Connection registered", "client_id", id.String(), "subject", c.subject, "total_clients", len(h.clients))
	c.reply <- id
}

func (h *Hub) handleUnregister(clientID uuid.UUID) {
	cl, ok := h.clients[clientID]
	if !ok {
		return
	}

	h.dropSubscriptions(clientID)
	delete(h.clients, clientID)
	cl.writer.stop()

	metrics.BroadcastActiveConnections.Set(float64(len(h.clients)))
	slog.Debug("Connection unregistered", "client_id", clientID.String(), "remaining_clients", len(h.clients))
}

func (h *Hub) handleSubscribe(clientID uuid.UUID, channel string) error {
	channels, ok := h.channelsByClient[clientID]
	if !ok {
		return fmt.Errorf("unknown client %s", clientID)
	}
	if _, already := channels[channel]; already {
		return nil
	}

	channels[channel] = struct{}{}
	subs, ok := h.subsByChannel[channel]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		h.subsByChannel[channel] = subs
	}
	subs[clientID] = struct{}{}

	metrics.BroadcastSubscriptions.Inc()
	slog.Debug("Subscribed", "client_id", clientID.String(), "channel", channel, "subscribers", len(subs))
	return nil
}

func (h *Hub) handleUnsubscribe(clientID uuid.UUID, channel string) {
	channels, ok := h.channelsByClient[clientID]
	if !ok {
		return
	}
	if _, subscribed := channels[channel]; !subscribed {
		return
	}

	delete(channels, channel)
	if subs, ok := h.subsByChannel[channel]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(h.subsByChannel, channel)
		}
	}
	metrics.BroadcastSubscriptions.Dec()
}

// dropSubscriptions removes a client from both indices, keeping them
// mutually consistent.
func (h *Hub) dropSubscriptions(clientID uuid.UUID) {
	channels, ok := h.channelsByClient[clientID]
	if !ok {
		return
	}
	for channel := range channels {
		if subs, ok := h.subsByChannel[channel]; ok {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.subsByChannel, channel)
			}
		}
		metrics.BroadcastSubscriptions.Dec()
	}
	delete(h.channelsByClient, clientID)
}

func (h *Hub) handleBroadcast(channel string, payload []byte) int {
	subs, ok := h.subsByChannel[channel]
	if !ok || len(subs) == 0 {
		return 0
	}

	delivered := 0
	var slow []uuid.UUID
	for clientID := range subs {
		cl, ok := h.clients[clientID]
		if !ok {
			continue
		}
		if cl.writer.trySend(payload) {
			delivered++
		} else {
			slow = append(slow, clientID)
		}
	}

	// A full send buffer means the client is not keeping up. Evicting it
	// keeps one stalled socket from degrading delivery for everyone else.
	for _, clientID := range slow {
		slog.Warn("Disconnecting slow client", "client_id", clientID.String(), "channel", channel)
		metrics.BroadcastSlowClientsEvicted.Inc()
		h.handleUnregister(clientID)
	}

	metrics.BroadcastDeliveredTotal.Add(float64(delivered))
	return delivered
}

func (h *Hub) handleStop() {
	total := len(h.clients)
	slog.Info("Broadcast hub shutting down", "total_clients", total)
	h.closeAllClients("Server shutting down")
	slog.Info("Broadcast hub shutdown complete", "disconnected_clients", total)
}

// closeAllClients closes every connection with the given reason. Used
// during panic recovery and graceful shutdown.
func (h *Hub) closeAllClients(reason string) {
	for clientID, cl := range h.clients {
		cl.writer.stopGraceful(reason)
		delete(h.clients, clientID)
	}
	h.subsByChannel = make(map[string]map[uuid.UUID]struct{})
	h.channelsByClient = make(map[uuid.UUID]map[string]struct{})
	metrics.BroadcastActiveConnections.Set(0)
	metrics.BroadcastSubscriptions.Set(0)
}
