package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestDecodeMessage(t *testing.T) {
	m := decodeMessage(redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"run_id":     "run-1",
			"project_id": "proj-1",
			"created_at": "2026-01-02T03:04:05Z",
		},
	})
	assert.Equal(t, "1-0", m.ID)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "proj-1", m.ProjectID)
	assert.Equal(t, 2026, m.CreatedAt.Year())
}
