package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "broadcastbot/pkg/logx"
)

type completed struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

func TestPublishSubscribe(t *testing.T) {
	bus := New(logx.Nop(), 4)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, TopicDeliveryCompleted, func(_ context.Context, e Event) error {
		got <- e
		return nil
	}))
	require.NoError(t, bus.Publish(TopicDeliveryCompleted, completed{Success: 2, Errors: 1}))

	select {
	case e := <-got:
		assert.Equal(t, TopicDeliveryCompleted, e.Type)
		var c completed
		require.NoError(t, e.Decode(&c))
		assert.Equal(t, completed{Success: 2, Errors: 1}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := New(logx.Nop(), 1)
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.Publish(TopicRoleChanged, map[string]any{"user_id": 1}))

	var nilBus *Bus
	assert.NoError(t, nilBus.Publish(TopicRoleChanged, nil))
}
