package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/aquaminds/meter-relay-go/internal/redis"
)

// newTestHub builds a hub with no redis bridge so topic membership and
// local fan-out can be exercised directly.
func newTestHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		bridges:     make(map[string]chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func addTestSubscriber(h *Hub, ownerID string, buffer int) *Subscriber {
	sub := &Subscriber{
		OwnerID: ownerID,
		Events:  make(chan Event, buffer),
		Done:    make(chan struct{}),
	}
	h.mu.Lock()
	if h.subscribers[ownerID] == nil {
		h.subscribers[ownerID] = make(map[*Subscriber]bool)
	}
	h.subscribers[ownerID][sub] = true
	h.mu.Unlock()
	return sub
}

func TestBroadcastReachesTopicMembersOnly(t *testing.T) {
	h := newTestHub()

	alice1 := addTestSubscriber(h, "owner-1", 10)
	alice2 := addTestSubscriber(h, "owner-1", 10)
	bob := addTestSubscriber(h, "owner-2", 10)

	event, err := NewEvent(EventMessage, map[string]string{"meterId": "meter-1"})
	require.NoError(t, err)

	h.broadcast("owner-1", event)

	assert.Len(t, alice1.Events, 1)
	assert.Len(t, alice2.Events, 1)
	assert.Empty(t, bob.Events)

	got := <-alice1.Events
	assert.Equal(t, EventMessage, got.Type)

	var data map[string]string
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "meter-1", data["meterId"])
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := newTestHub()
	sub := addTestSubscriber(h, "owner-1", 1)

	event, err := NewEvent(EventMessage, map[string]string{"n": "1"})
	require.NoError(t, err)

	h.broadcast("owner-1", event)
	// Buffer is full now; the second broadcast must not block.
	h.broadcast("owner-1", event)

	assert.Len(t, sub.Events, 1)
}

func TestUnsubscribe(t *testing.T) {
	h := newTestHub()

	sub1 := addTestSubscriber(h, "owner-1", 10)
	sub2 := addTestSubscriber(h, "owner-1", 10)
	assert.Equal(t, 2, h.SubscriberCount("owner-1"))

	h.Unsubscribe(sub1)
	assert.Equal(t, 1, h.SubscriberCount("owner-1"))
	select {
	case <-sub1.Done:
	default:
		t.Fatal("Done should be closed after Unsubscribe")
	}

	// Last subscriber leaving tears the topic down entirely.
	h.Unsubscribe(sub2)
	assert.Equal(t, 0, h.SubscriberCount("owner-1"))
	assert.Equal(t, 0, h.TotalSubscribers())
}

// unreachableRedis builds a client that never connects; the bridge
// goroutine just parks until it is told to stop.
func unreachableRedis() *redisclient.Client {
	return &redisclient.Client{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})}
}

func TestRejoinRestartsBridge(t *testing.T) {
	h := NewHub(unreachableRedis())
	defer h.Close()

	sub := h.Subscribe("owner-1")
	h.mu.RLock()
	stop1 := h.bridges["owner-1"]
	h.mu.RUnlock()
	require.NotNil(t, stop1)

	h.Unsubscribe(sub)

	// The bridge is told to exit the moment its topic empties.
	select {
	case <-stop1:
	default:
		t.Fatal("bridge stop channel should be closed after the last unsubscribe")
	}

	// A rejoin gets a fresh bridge, not a second one stacked on the
	// first.
	sub2 := h.Subscribe("owner-1")
	h.mu.RLock()
	stop2 := h.bridges["owner-1"]
	bridgeCount := len(h.bridges)
	h.mu.RUnlock()
	require.NotNil(t, stop2)
	assert.Equal(t, 1, bridgeCount)
	select {
	case <-stop2:
		t.Fatal("new bridge should still be running")
	default:
	}

	h.Unsubscribe(sub2)
}

func TestHubClose(t *testing.T) {
	h := newTestHub()

	sub := addTestSubscriber(h, "owner-1", 10)
	addTestSubscriber(h, "owner-2", 10)
	require.Equal(t, 2, h.TotalSubscribers())

	h.Close()

	assert.Equal(t, 0, h.TotalSubscribers())
	select {
	case <-sub.Done:
	default:
		t.Fatal("Done should be closed after Close")
	}
}
