package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/scorepulse/scorepulse/internal/domain"
)

const (
	updatesChannel = "scorepulse:updates"
	publishTimeout = 2 * time.Second
)

// ConnectRedis opens and verifies the Redis connection used for
// cross-process update coordination.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// envelope wraps an update with its target channel for the Redis hop.
type envelope struct {
	Channel string            `json:"channel"`
	Update  domain.GameUpdate `json:"update"`
}

// Publisher is the Broadcaster used inside worker processes. Workers hold
// no WebSocket connections; they hand updates to Redis and every
// connection-holding process relays them locally.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Broadcast publishes the update. The return value is the number of
// processes that received it, not end-client deliveries; those are counted
// where the connections live.
func (p *Publisher) Broadcast(channel string, update domain.GameUpdate) int {
	payload, err := json.Marshal(envelope{Channel: channel, Update: update})
	if err != nil {
		slog.Error("Failed to marshal update envelope", "channel", channel, "error", err)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	receivers, err := p.rdb.Publish(ctx, updatesChannel, payload).Result()
	if err != nil {
		slog.Error("Failed to publish update", "channel", channel, "error", err)
		return 0
	}
	return int(receivers)
}

// Relay runs in connection-holding processes: it subscribes to the update
// channel and rebroadcasts each envelope into the local hub.
type Relay struct {
	rdb         *redis.Client
	broadcaster domain.Broadcaster
}

func NewRelay(rdb *redis.Client, broadcaster domain.Broadcaster) *Relay {
	return &Relay{rdb: rdb, broadcaster: broadcaster}
}

// Start listens for update envelopes. Blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, updatesChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			r.handleUpdate(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handleUpdate(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("Malformed update envelope", "error", err)
		return
	}
	delivered := r.broadcaster.Broadcast(env.Channel, env.Update)
	slog.Debug("Relayed update", "channel", env.Channel, "game_id", env.Update.GameID, "delivered", delivered)
}
