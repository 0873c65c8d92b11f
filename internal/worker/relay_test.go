package worker

import (
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scorepulse/scorepulse/internal/domain"
)

type captureBroadcaster struct {
	mu       sync.Mutex
	channels []string
	updates  []domain.GameUpdate
}

func (c *captureBroadcaster) Broadcast(channel string, update domain.GameUpdate) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	c.updates = append(c.updates, update)
	return 1
}

func TestRelay_HandleUpdateRebroadcastsLocally(t *testing.T) {
	bcast := &captureBroadcaster{}
	relay := NewRelay(nil, bcast)

	homeScore := 52
	payload, err := json.Marshal(envelope{
		Channel: "NBA",
		Update:  domain.GameUpdate{GameID: "g1", League: "NBA", HomeScore: &homeScore},
	})
	require.NoError(t, err)

	relay.handleUpdate(string(payload))

	require.Len(t, bcast.updates, 1)
	assert.Equal(t, "NBA", bcast.channels[0])
	assert.Equal(t, "g1", bcast.updates[0].GameID)
	require.NotNil(t, bcast.updates[0].HomeScore)
	assert.Equal(t, 52, *bcast.updates[0].HomeScore)
}

func TestRelay_HandleUpdateIgnoresMalformedPayload(t *testing.T) {
	bcast := &captureBroadcaster{}
	relay := NewRelay(nil, bcast)

	relay.handleUpdate("{not json")

	assert.Empty(t, bcast.updates)
}
