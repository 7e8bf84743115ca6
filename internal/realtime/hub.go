package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/trafficai/pkg/models"
)

// Subscriber is the minimal interface the hub needs from a connection: the
// ability to push a serialized event to the subscribed client.
type Subscriber interface {
	Send(data []byte) error
}

// MessageInserted is the wire shape of a message-insert event, matching what
// the widget's event boundary validates.
type MessageInserted struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// NewMessageInserted wraps a persisted message as an insert event.
func NewMessageInserted(msg models.Message) MessageInserted {
	return MessageInserted{
		Type:           "message.inserted",
		ConversationID: msg.ConversationID,
		Message:        msg,
	}
}

// Hub fans message-insert events out to subscribers scoped by conversation
// id. Delivery is at-least-once and best effort: a subscriber that fails to
// receive is evicted, and events published while a client is disconnected
// are not replayed (the widget's polling covers that gap).
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Subscriber
	nextID int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]Subscriber)}
}

// Register adds a subscriber for a conversation and returns the connection
// id to use when unregistering.
func (h *Hub) Register(conversationID string, s Subscriber) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[conversationID]; !ok {
		h.subs[conversationID] = make(map[int64]Subscriber)
	}

	h.nextID++
	id := h.nextID
	h.subs[conversationID][id] = s
	return id
}

// Unregister removes a previously-registered subscriber.
func (h *Hub) Unregister(conversationID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[conversationID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.subs, conversationID)
		}
	}
}

// SubscriberCount reports how many connections follow a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// BroadcastMessage publishes an insert event to every subscriber of the
// message's conversation. Failed subscribers are unregistered so broken
// connections do not accumulate; the first send error is returned.
func (h *Hub) BroadcastMessage(msg models.Message) error {
	data, err := json.Marshal(NewMessageInserted(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.RLock()
	conns := make(map[int64]Subscriber, len(h.subs[msg.ConversationID]))
	for id, s := range h.subs[msg.ConversationID] {
		conns[id] = s
	}
	h.mu.RUnlock()

	var firstErr error
	var failedIDs []int64

	for id, s := range conns {
		if err := s.Send(data); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}

	for _, id := range failedIDs {
		h.Unregister(msg.ConversationID, id)
	}

	return firstErr
}
