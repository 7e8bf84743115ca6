package widget

import (
	"encoding/json"
	"fmt"

	"github.com/trafficai/pkg/models"
)

// EventType tags inbound realtime payloads.
type EventType string

// EventMessageInserted is emitted when a message row is inserted for a
// subscribed conversation.
const EventMessageInserted EventType = "message.inserted"

// Event is the validated form of an inbound realtime payload. Payloads are
// checked here, at the boundary, so the timeline never sees a malformed
// message.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// ParseEvent decodes and validates a raw realtime payload. Callers treat any
// error as "drop the payload": the realtime feed is best effort, not a
// guaranteed-delivery log.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode realtime payload: %w", err)
	}

	if ev.Type != EventMessageInserted {
		return nil, fmt.Errorf("unrecognized event type %q", ev.Type)
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("realtime event missing conversation id")
	}
	if ev.Message.ID == "" {
		return nil, fmt.Errorf("realtime event missing message id")
	}

	return &ev, nil
}
