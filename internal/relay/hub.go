package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/aquaminds/meter-relay-go/internal/redis"
)

// Subscriber is one live distribution connection joined to an owner's
// topic. Events are buffered; a subscriber that cannot keep up has
// events dropped rather than stalling the topic.
type Subscriber struct {
	OwnerID string
	Events  chan Event
	Done    chan struct{}
}

// Hub routes canonical records to subscriber connections, one topic
// per owner. Publishes go through redis pub/sub so fan-out reaches
// subscribers on every relay instance.
type Hub struct {
	redis       *redisclient.Client
	subscribers map[string]map[*Subscriber]bool // ownerID -> set of subscribers
	bridges     map[string]chan struct{}        // ownerID -> redis bridge stop signal
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewHub(redisClient *redisclient.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		redis:       redisClient,
		subscribers: make(map[string]map[*Subscriber]bool),
		bridges:     make(map[string]chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe joins the owner's topic. The first subscriber for an owner
// starts the redis bridge for that topic; the bridge lives until the
// topic empties.
func (h *Hub) Subscribe(ownerID string) *Subscriber {
	sub := &Subscriber{
		OwnerID: ownerID,
		Events:  make(chan Event, 100),
		Done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.subscribers[ownerID] == nil {
		h.subscribers[ownerID] = make(map[*Subscriber]bool)
		stop := make(chan struct{})
		h.bridges[ownerID] = stop
		go h.subscribeToRedis(ownerID, stop)
	}
	h.subscribers[ownerID][sub] = true
	count := len(h.subscribers[ownerID])
	h.mu.Unlock()

	log.Info().
		Str("ownerId", ownerID).
		Int("subscriberCount", count).
		Msg("subscriber joined topic")

	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[sub.OwnerID]; ok {
		delete(subs, sub)
		close(sub.Done)

		if len(subs) == 0 {
			delete(h.subscribers, sub.OwnerID)
			// Last subscriber gone: stop the topic's redis bridge so a
			// later rejoin starts a fresh one instead of stacking a
			// duplicate subscription.
			if stop, ok := h.bridges[sub.OwnerID]; ok {
				close(stop)
				delete(h.bridges, sub.OwnerID)
			}
		}

		log.Info().
			Str("ownerId", sub.OwnerID).
			Int("subscriberCount", len(subs)).
			Msg("subscriber left topic")
	}
}

// Publish delivers an event to every subscriber currently joined to
// the owner's topic. Delivery is fire-and-forget per subscriber.
func (h *Hub) Publish(ctx context.Context, ownerID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.RecordChannel(ownerID)
	return h.redis.Publish(ctx, channel, data).Err()
}

func (h *Hub) subscribeToRedis(ownerID string, stop <-chan struct{}) {
	channel := redisclient.RecordChannel(ownerID)
	pubsub := h.redis.Subscribe(h.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("ownerId", ownerID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-stop:
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			h.broadcast(ownerID, event)
		}
	}
}

func (h *Hub) broadcast(ownerID string, event Event) {
	h.mu.RLock()
	subs := h.subscribers[ownerID]
	h.mu.RUnlock()

	for sub := range subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("ownerId", ownerID).
				Msg("subscriber event buffer full, dropping event")
		}
	}
}

func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, subs := range h.subscribers {
		for sub := range subs {
			close(sub.Done)
		}
	}
	for _, stop := range h.bridges {
		close(stop)
	}
	h.subscribers = make(map[string]map[*Subscriber]bool)
	h.bridges = make(map[string]chan struct{})
}

func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[ownerID])
}

func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, subs := range h.subscribers {
		total += len(subs)
	}
	return total
}
