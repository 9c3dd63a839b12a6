package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLogger_JSONAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info", Format: "json", Component: "processor"}, &buf)

	ctx := ContextWithRunID(context.Background(), "run-1")
	l.WithContext(ctx).WithError(errors.New("boom")).Info("[processor.run.error]")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "[processor.run.error]", entry["msg"])
}

func TestLogger_RunLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf)
	l.RunLog("claimed", "run-9", "scenario_id", "scn-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "claimed", entry["action"])
	assert.Equal(t, "run-9", entry["run_id"])
	assert.Equal(t, "scn-1", entry["scenario_id"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Info("ignored") })
}
