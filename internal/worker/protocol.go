package worker

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Message types carried on a worker's stdout, one JSON object per line.
const (
	MessageHeartbeat = "heartbeat"
)

// Worker statuses. Running and stopping are reported in heartbeats;
// exited and stale are assigned by the supervisor.
const (
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusExited   = "exited"
	StatusStale    = "stale"
)

// Message is one line of the worker-to-supervisor protocol.
type Message struct {
	Type        string    `json:"type"`
	WorkerIndex int       `json:"workerIndex"`
	Status      string    `json:"status"`
	Games       int       `json:"games"`
	Timestamp   time.Time `json:"timestamp"`
}

// EncodeLine serializes a message with its trailing newline.
func EncodeLine(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode protocol message: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeLine parses one protocol line.
func DecodeLine(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("decode protocol message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("protocol message without type")
	}
	return msg, nil
}
