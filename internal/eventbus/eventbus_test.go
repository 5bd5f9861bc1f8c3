package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Kind: NodeStarted, ExecutionID: "e1", Timestamp: time.Now()})

	select {
	case ev := <-ch:
		require.Equal(t, NodeStarted, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < bufferSize+10; i++ {
		bus.Publish(Event{Kind: NodeOutput, ExecutionID: "e1", Fields: map[string]any{"i": i}})
	}

	require.LessOrEqual(t, len(ch), bufferSize)

	// The most recent events should have survived the drop; the very
	// first one should have been evicted.
	first := <-ch
	require.NotEqual(t, 0, first.Fields["i"])
}

func TestCloseStopsDeliveryAndClosesChannel(t *testing.T) {
	bus := New()
	ch, _ := bus.Subscribe()

	bus.Close()
	bus.Publish(Event{Kind: NodeStarted})

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}
