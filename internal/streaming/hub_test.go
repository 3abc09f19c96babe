package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events"
	"github.com/mystorage/mystorage/internal/events/bus"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func registerClient(t *testing.T, hub *Hub) *Client {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	client := NewClient("client-"+t.Name(), nil, hub, log)
	hub.Register(client)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(TopicAll) > 0
	}, time.Second, 5*time.Millisecond)
	return client
}

func receiveEvent(t *testing.T, client *Client) *bus.Event {
	t.Helper()

	select {
	case data := <-client.send:
		var event bus.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return &event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubBroadcastsToWildcardSubscribers(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	client := registerClient(t, hub)

	sent := bus.NewEvent(events.SessionLog, "test", map[string]interface{}{
		"session_id": "sess-1",
		"line":       "compressing file 1 of 3",
	})
	hub.Broadcast("sess-1", sent)

	got := receiveEvent(t, client)
	assert.Equal(t, events.SessionLog, got.Type)
	assert.Equal(t, "compressing file 1 of 3", got.Data["line"])
}

func TestHubRoutesByTopic(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	client := registerClient(t, hub)

	// Narrow the client to one session.
	client.handleSubscription(&SubscriptionMessage{Action: "subscribe", SessionID: "sess-a"})
	assert.Equal(t, 0, hub.SubscriberCount(TopicAll))
	assert.Equal(t, 1, hub.SubscriberCount("sess-a"))

	hub.Broadcast("sess-b", bus.NewEvent(events.SessionLog, "test", map[string]interface{}{
		"session_id": "sess-b",
	}))
	hub.Broadcast("sess-a", bus.NewEvent(events.SessionStats, "test", map[string]interface{}{
		"session_id": "sess-a",
	}))

	got := receiveEvent(t, client)
	assert.Equal(t, events.SessionStats, got.Type)
	assert.Equal(t, "sess-a", got.Data["session_id"])
}

func TestHubUnsubscribe(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	client := registerClient(t, hub)
	client.handleSubscription(&SubscriptionMessage{Action: "subscribe", SessionID: "sess-a"})
	client.handleSubscription(&SubscriptionMessage{Action: "unsubscribe", SessionID: "sess-a"})

	assert.Equal(t, 0, hub.SubscriberCount("sess-a"))
}

func TestHubUnregisterRemovesClient(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	client := registerClient(t, hub)
	hub.Unregister(client)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount(TopicAll))
}

func TestHubAttachBusForwardsSessionEvents(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	require.NoError(t, hub.AttachBus(eventBus))

	client := registerClient(t, hub)

	err = eventBus.Publish(context.Background(), events.SessionStarted,
		bus.NewEvent(events.SessionStarted, "test", map[string]interface{}{
			"session_id": "sess-1",
			"state":      "RUNNING",
		}))
	require.NoError(t, err)

	got := receiveEvent(t, client)
	assert.Equal(t, events.SessionStarted, got.Type)
	assert.Equal(t, "sess-1", got.Data["session_id"])
}
