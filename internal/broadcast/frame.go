package broadcast

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Frame types pushed to clients.
const (
	FrameBroadcast = "broadcast"
	FrameError     = "error"
	FrameSystem    = "system"
)

// Inbound frame types accepted from clients.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionMessage     = "message"
)

// Frame is the envelope for every server-to-client message.
type Frame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// InboundFrame is a client-to-server control message:
// {"type": "subscribe"|"unsubscribe"|"message", "data": {"channel": "..."}}.
type InboundFrame struct {
	Action  string
	Channel string
}

type inboundEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Channel string `json:"channel"`
	} `json:"data"`
}

// ParseInbound decodes and validates a client control message.
func ParseInbound(raw []byte) (InboundFrame, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch env.Type {
	case ActionSubscribe, ActionUnsubscribe:
		if env.Data.Channel == "" {
			return InboundFrame{}, fmt.Errorf("missing channel")
		}
	case ActionMessage:
		// Accepted for protocol compatibility; carries no server-side action.
	default:
		return InboundFrame{}, fmt.Errorf("unknown frame type %q", env.Type)
	}
	return InboundFrame{Action: env.Type, Channel: env.Data.Channel}, nil
}

// encodeFrame serializes an outbound frame exactly once, so fan-out to N
// subscribers does not marshal N times.
func encodeFrame(frameType, channel string, data any, message string, now time.Time) ([]byte, error) {
	f := Frame{
		Type:      frameType,
		Channel:   channel,
		Message:   message,
		Timestamp: now.UTC(),
	}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal frame data: %w", err)
		}
		f.Data = payload
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return raw, nil
}
