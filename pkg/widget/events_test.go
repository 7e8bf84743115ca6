package widget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficai/pkg/models"
)

func TestParseEventAcceptsMessageInserted(t *testing.T) {
	payload := `{
		"type": "message.inserted",
		"conversation_id": "conv-1",
		"message": {
			"id": "msg-1",
			"conversation_id": "conv-1",
			"body": "hello",
			"sender_type": "agent",
			"created_at": "2026-08-30T10:00:00Z"
		}
	}`

	ev, err := ParseEvent([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, EventMessageInserted, ev.Type)
	assert.Equal(t, "conv-1", ev.ConversationID)
	assert.Equal(t, models.SenderAgent, ev.Message.SenderType)
}

func TestParseEventRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"invalid json":       `{"type": "message.inserted",`,
		"unknown type":       `{"type": "typing.started", "conversation_id": "conv-1"}`,
		"missing convo":      `{"type": "message.inserted", "message": {"id": "m1"}}`,
		"missing message id": `{"type": "message.inserted", "conversation_id": "conv-1", "message": {}}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(payload))
			assert.Error(t, err)
		})
	}
}
