package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub(0)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{WorkflowID: "wf-1", NodeID: "n1", Kind: "json", Name: "NODE_START"}
	require.NoError(t, hub.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, event.WorkflowID, got.WorkflowID)
		assert.Equal(t, event.NodeID, got.NodeID)
		assert.Equal(t, event.Name, got.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilter(t *testing.T) {
	hub := NewMemoryHub(8)
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "s1", Kinds: []string{"error"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s2", Kind: "error"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s1", Kind: "json"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s1", Kind: "error", Content: "boom"}))

	select {
	case got := <-ch:
		assert.Equal(t, "boom", got.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.Len(t, ch, 0)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub(1)
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestSlowSubscriberDrops(t *testing.T) {
	hub := NewMemoryHub(1)
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{ID: uint64(i)}))
	}
	assert.Len(t, ch, 1)
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, hub.Publish(ctx, StreamEvent{}))
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub(1000)
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{Kind: "json"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 500)
}
