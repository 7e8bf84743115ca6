package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficai/pkg/models"
)

type recordingSubscriber struct {
	sent [][]byte
	err  error
}

func (r *recordingSubscriber) Send(data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, data)
	return nil
}

func testMessage(conversationID string) models.Message {
	return models.Message{
		ID:             "msg-1",
		ConversationID: conversationID,
		Body:           "hello",
		SenderType:     models.SenderAgent,
		CreatedAt:      time.Now(),
	}
}

func TestHubBroadcastScopedByConversation(t *testing.T) {
	hub := NewHub()

	subA := &recordingSubscriber{}
	subB := &recordingSubscriber{}
	hub.Register("conv-a", subA)
	hub.Register("conv-b", subB)

	require.NoError(t, hub.BroadcastMessage(testMessage("conv-a")))

	assert.Len(t, subA.sent, 1)
	assert.Empty(t, subB.sent, "subscribers of other conversations see nothing")

	var ev MessageInserted
	require.NoError(t, json.Unmarshal(subA.sent[0], &ev))
	assert.Equal(t, "message.inserted", ev.Type)
	assert.Equal(t, "conv-a", ev.ConversationID)
	assert.Equal(t, "msg-1", ev.Message.ID)
}

func TestHubDeliversToAllConversationSubscribers(t *testing.T) {
	hub := NewHub()

	subs := []*recordingSubscriber{{}, {}, {}}
	for _, s := range subs {
		hub.Register("conv-a", s)
	}

	require.NoError(t, hub.BroadcastMessage(testMessage("conv-a")))
	for _, s := range subs {
		assert.Len(t, s.sent, 1)
	}
}

func TestHubEvictsFailedSubscribers(t *testing.T) {
	hub := NewHub()

	healthy := &recordingSubscriber{}
	broken := &recordingSubscriber{err: errors.New("connection closed")}
	hub.Register("conv-a", healthy)
	hub.Register("conv-a", broken)

	err := hub.BroadcastMessage(testMessage("conv-a"))
	assert.Error(t, err, "first send error is surfaced")
	assert.Len(t, healthy.sent, 1, "best-effort delivery to the rest")
	assert.Equal(t, 1, hub.SubscriberCount("conv-a"), "broken subscriber evicted")

	// Next broadcast only reaches the healthy connection, without error.
	require.NoError(t, hub.BroadcastMessage(testMessage("conv-a")))
	assert.Len(t, healthy.sent, 2)
}

func TestHubUnregisterRemovesEmptyConversations(t *testing.T) {
	hub := NewHub()

	id := hub.Register("conv-a", &recordingSubscriber{})
	assert.Equal(t, 1, hub.SubscriberCount("conv-a"))

	hub.Unregister("conv-a", id)
	assert.Equal(t, 0, hub.SubscriberCount("conv-a"))

	// Unregistering again is harmless.
	hub.Unregister("conv-a", id)
}
