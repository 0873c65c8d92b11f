package worker

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLine(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	msg := Message{Type: MessageHeartbeat, WorkerIndex: 2, Status: StatusRunning, Timestamp: now}

	line, err := EncodeLine(msg)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1], "protocol is line-oriented")

	decoded, err := DecodeLine(bytes.TrimSuffix(line, []byte("\n")))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecodeLine_Rejects(t *testing.T) {
	_, err := DecodeLine([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeLine([]byte(`{"workerIndex":1}`))
	assert.Error(t, err, "message without type must be rejected")
}

func TestHeartbeater_EmitsRunningThenStopping(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	hb := NewHeartbeater(&buf, 3, 10*time.Millisecond, clockwork.NewRealClock(), func() int { return 7 })
	go func() {
		defer close(done)
		hb.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.GreaterOrEqual(t, len(lines), 3, "expected initial beat, ticks, and a final stopping beat")

	first, err := DecodeLine(lines[0])
	require.NoError(t, err)
	assert.Equal(t, MessageHeartbeat, first.Type)
	assert.Equal(t, 3, first.WorkerIndex)
	assert.Equal(t, StatusRunning, first.Status)
	assert.Equal(t, 7, first.Games)

	last, err := DecodeLine(lines[len(lines)-1])
	require.NoError(t, err)
	assert.Equal(t, StatusStopping, last.Status)
}
