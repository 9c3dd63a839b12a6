package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestDecodeMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]interface{}{
			"type":      "run.completed",
			"timestamp": ts.Format(time.RFC3339Nano),
			"payload":   `{"success":true}`,
		},
	}

	ev := decodeMessage("run-1", msg)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "run.completed", ev.Type)
	assert.True(t, ev.Timestamp.Equal(ts))
	assert.Equal(t, true, ev.Payload["success"])
}

func TestDecodeMessage_Malformed(t *testing.T) {
	ev := decodeMessage("run-1", redis.XMessage{ID: "1-0", Values: map[string]interface{}{"payload": "{"}})
	assert.Empty(t, ev.Type)
	assert.Nil(t, ev.Payload)
}

func TestRunEventsKey(t *testing.T) {
	assert.Equal(t, "eval:run_events:run-1", runEventsKey("run-1"))
}
