package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepulse/scorepulse/internal/domain"
)

func testHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.SendBufferSize == 0 {
		cfg.SendBufferSize = 16
	}
	hub := NewHub(clockwork.NewRealClock(), cfg)
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(func() { srv.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func register(t *testing.T, hub *Hub, subject string) (uuid.UUID, *ws.Conn) {
	t.Helper()
	server, client := newTestConnPair(t)
	id, err := hub.Register(server, subject)
	require.NoError(t, err)
	return id, client
}

func readFrame(t *testing.T, conn *ws.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func scoreUpdate(gameID string, homeScore int) domain.GameUpdate {
	return domain.GameUpdate{GameID: gameID, League: "NBA", HomeScore: &homeScore}
}

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	hub := testHub(t, Config{})

	id1, conn1 := register(t, hub, "alice")
	id2, conn2 := register(t, hub, "bob")
	require.NoError(t, hub.Subscribe(id1, "NBA"))
	require.NoError(t, hub.Subscribe(id2, "NBA"))

	delivered := hub.Broadcast("NBA", scoreUpdate("g1", 52))
	assert.Equal(t, 2, delivered)

	for _, conn := range []*ws.Conn{conn1, conn2} {
		f := readFrame(t, conn)
		assert.Equal(t, FrameBroadcast, f.Type)
		assert.Equal(t, "NBA", f.Channel)
		assert.False(t, f.Timestamp.IsZero())

		var update domain.GameUpdate
		require.NoError(t, json.Unmarshal(f.Data, &update))
		assert.Equal(t, "g1", update.GameID)
		require.NotNil(t, update.HomeScore)
		assert.Equal(t, 52, *update.HomeScore)
	}
}

func TestHub_BroadcastIsolatedToChannel(t *testing.T) {
	hub := testHub(t, Config{})

	nbaID, nbaConn := register(t, hub, "alice")
	nhlID, nhlConn := register(t, hub, "bob")
	require.NoError(t, hub.Subscribe(nbaID, "NBA"))
	require.NoError(t, hub.Subscribe(nhlID, "NHL"))

	delivered := hub.Broadcast("NBA", scoreUpdate("g1", 50))
	assert.Equal(t, 1, delivered)

	f := readFrame(t, nbaConn)
	assert.Equal(t, "NBA", f.Channel)

	// The NHL subscriber must not see the NBA update.
	require.NoError(t, nhlConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := nhlConn.ReadMessage()
	assert.Error(t, err, "subscriber of another channel must receive nothing")
}

func TestHub_BroadcastNoSubscribers(t *testing.T) {
	hub := testHub(t, Config{})
	assert.Equal(t, 0, hub.Broadcast("NBA", scoreUpdate("g1", 10)))
}

func TestHub_SubscribeIdempotent(t *testing.T) {
	hub := testHub(t, Config{})

	id, conn := register(t, hub, "alice")
	require.NoError(t, hub.Subscribe(id, "NBA"))
	require.NoError(t, hub.Subscribe(id, "NBA"))

	assert.Equal(t, 1, hub.SubscriberCount("NBA"))
	assert.Equal(t, 1, hub.Broadcast("NBA", scoreUpdate("g1", 11)), "duplicate subscription must not double-deliver")

	readFrame(t, conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "exactly one copy per broadcast")
}

func TestHub_SubscribeUnknownClient(t *testing.T) {
	hub := testHub(t, Config{})
	err := hub.Subscribe(uuid.New(), "NBA")
	assert.Error(t, err)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := testHub(t, Config{})

	id, conn := register(t, hub, "alice")
	require.NoError(t, hub.Subscribe(id, "NBA"))
	hub.Unsubscribe(id, "NBA")

	assert.Equal(t, 0, hub.SubscriberCount("NBA"))
	assert.Equal(t, 0, hub.Broadcast("NBA", scoreUpdate("g1", 12)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregisterDropsAllSubscriptions(t *testing.T) {
	hub := testHub(t, Config{})

	id, _ := register(t, hub, "alice")
	require.NoError(t, hub.Subscribe(id, "NBA"))
	require.NoError(t, hub.Subscribe(id, "game-123"))

	hub.Unregister(id)

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount("NBA"))
	assert.Equal(t, 0, hub.SubscriberCount("game-123"))

	// Operations against the removed id are harmless no-ops.
	hub.Unregister(id)
	hub.Unsubscribe(id, "NBA")
	assert.Error(t, hub.Subscribe(id, "NBA"))
}

func TestHub_SlowClientEvicted(t *testing.T) {
	hub := testHub(t, Config{SendBufferSize: 1})

	slowID, slowConn := register(t, hub, "slow")
	fastID, fastConn := register(t, hub, "fast")
	require.NoError(t, hub.Subscribe(slowID, "NBA"))
	require.NoError(t, hub.Subscribe(fastID, "NBA"))

	// The slow client never reads. Large payloads fill its kernel buffers,
	// the writer blocks mid-send, the one-slot channel backs up, and the
	// next broadcast evicts it. The fast client keeps draining.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := fastConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	clock := strings.Repeat("0", 256*1024)
	update := scoreUpdate("g1", 1)
	update.TimeRemaining = &clock

	evicted := false
	for i := 0; i < 50 && !evicted; i++ {
		hub.Broadcast("NBA", update)
		evicted = hub.SubscriberCount("NBA") == 1
	}
	assert.True(t, evicted, "slow client should be evicted")
	assert.Equal(t, 1, hub.ClientCount())

	// Eviction closes the slow socket.
	require.NoError(t, slowConn.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		if _, _, err := slowConn.ReadMessage(); err != nil {
			break
		}
	}

	fastConn.Close()
	<-done
}

func TestHub_SendErrorDoesNotClose(t *testing.T) {
	hub := testHub(t, Config{})

	id, conn := register(t, hub, "alice")
	require.NoError(t, hub.Subscribe(id, "NBA"))

	hub.SendError(id, "rate limit exceeded")

	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "rate limit exceeded", f.Message)

	// The connection stays registered and keeps receiving broadcasts.
	assert.Equal(t, 1, hub.Broadcast("NBA", scoreUpdate("g1", 1)))
	f = readFrame(t, conn)
	assert.Equal(t, FrameBroadcast, f.Type)
}

func TestHub_PingIntervalConfigurable(t *testing.T) {
	hub := testHub(t, Config{PingInterval: 20 * time.Millisecond})

	_, conn := register(t, hub, "alice")

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// Ping frames only surface through a read.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { conn.Close(); <-done })

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping within the configured interval")
	}
}

func TestHub_StopSendsShutdownClose(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), Config{SendBufferSize: 16})

	_, conn := register(t, hub, "alice")

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*ws.CloseError)
	require.True(t, ok, "expected close frame, got %v", err)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Server shutting down", closeErr.Text)
}

func TestHub_StopIdempotent(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), Config{SendBufferSize: 16})
	register(t, hub, "alice")

	hub.Stop()
	hub.Stop()
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    InboundFrame
		wantErr bool
	}{
		{name: "subscribe", raw: `{"type":"subscribe","data":{"channel":"NBA"}}`, want: InboundFrame{Action: "subscribe", Channel: "NBA"}},
		{name: "unsubscribe", raw: `{"type":"unsubscribe","data":{"channel":"game-1"}}`, want: InboundFrame{Action: "unsubscribe", Channel: "game-1"}},
		{name: "message passthrough", raw: `{"type":"message","data":{}}`, want: InboundFrame{Action: "message"}},
		{name: "unknown type", raw: `{"type":"shout","data":{"channel":"NBA"}}`, wantErr: true},
		{name: "missing channel", raw: `{"type":"subscribe","data":{}}`, wantErr: true},
		{name: "malformed", raw: `{not json`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
