package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_PublishAndGet(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx := context.Background()

	require.NoError(t, bus.PublishRunEvent(ctx, "run-1", &RunEvent{Type: EventRunStarted}))
	require.NoError(t, bus.PublishRunEvent(ctx, "run-1", &RunEvent{Type: EventRunCompleted}))

	events, err := bus.GetRunEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, "run-1", events[1].RunID)
	assert.True(t, events[1].IsFinal())

	require.NoError(t, bus.DeleteRunEvents(ctx, "run-1"))
	events, err = bus.GetRunEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryEventBus_Subscribe(t *testing.T) {
	bus := NewMemoryEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.SubscribeRunEvents(ctx, "run-1")
	require.NoError(t, err)

	require.NoError(t, bus.PublishRunEvent(context.Background(), "run-1", &RunEvent{Type: EventRunTurn}))
	require.NoError(t, bus.PublishRunEvent(context.Background(), "run-2", &RunEvent{Type: EventRunTurn}))

	select {
	case ev := <-ch:
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, EventRunTurn, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}
