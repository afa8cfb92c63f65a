// Package broadcast is a fire-and-forget, in-memory pub/sub sink: the
// orchestrator publishes state changes to it without ever blocking on
// a slow reader. It is created when the status API is enabled, but the
// status API itself does not subscribe to it.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Message is one broadcast event. Type names the event (balance,
// trade_opened, trade_closed, escalation, candle_closed,
// indicators_updated); Data
// carries the event-specific payload.
type Message struct {
	Type      string
	Data      interface{}
	Timestamp time.Time
}

// Hub fans a Message out to every subscriber. Each subscriber gets
// its own buffered channel; a slow or stalled subscriber drops
// messages rather than stalling the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Message
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[string]chan Message)}
}

// Subscribe registers a new subscriber and returns its channel along
// with the generated id an eventual Unsubscribe needs.
func (h *Hub) Subscribe() (string, chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Message, 256)
	h.subscribers[id] = ch

	log.Debug().Str("subscriberId", id).Int("total", len(h.subscribers)).Msg("broadcast: subscriber added")
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish fans msg out to every current subscriber.
func (h *Hub) Publish(msgType string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Message{Type: msgType, Data: data, Timestamp: time.Now()}
	for id, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("subscriberId", id).Str("type", msgType).Msg("broadcast: subscriber channel full, dropping message")
		}
	}
}

// Close tears down every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
