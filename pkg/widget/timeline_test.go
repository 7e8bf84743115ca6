package widget

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficai/pkg/models"
)

type stubLoader struct {
	msgs []models.Message
	err  error
}

func (s *stubLoader) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.msgs, s.err
}

func agentMessage(id, body string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "conv-1",
		Body:           body,
		SenderType:     models.SenderAgent,
		CreatedAt:      time.Now(),
	}
}

func insertedEvent(msg models.Message) *Event {
	return &Event{Type: EventMessageInserted, ConversationID: "conv-1", Message: msg}
}

func visibleIDs(t *Timeline) []string {
	msgs := t.Messages()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestIngestRealtimeDeduplicates(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	msg := agentMessage("msg-1", "hello")
	assert.True(t, tl.IngestRealtime(insertedEvent(msg)))

	// Same id again, any number of times: at most one copy ever renders.
	assert.False(t, tl.IngestRealtime(insertedEvent(msg)))
	assert.False(t, tl.IngestRealtime(insertedEvent(msg)))

	if diff := cmp.Diff([]string{"msg-1"}, visibleIDs(tl)); diff != "" {
		t.Errorf("visible ids mismatch (-want +got):\n%s", diff)
	}
}

func TestIngestRealtimeDropsPrivateMessages(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	private := agentMessage("msg-private", "internal note")
	private.IsPrivate = true

	assert.False(t, tl.IngestRealtime(insertedEvent(private)))
	assert.Empty(t, tl.Messages())
}

func TestIngestRealtimeDropsCustomerEcho(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	// Customer-authored rows are handled exclusively by the optimistic
	// path; the realtime echo must be dropped regardless of id novelty.
	echo := agentMessage("msg-echo", "from me")
	echo.SenderType = models.SenderCustomer

	assert.False(t, tl.IngestRealtime(insertedEvent(echo)))
	assert.Empty(t, tl.Messages())
}

func TestAppendOptimisticIsSynchronous(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	temp := tl.AppendOptimistic("Hello", Identity{Name: "Ada", Email: "ada@x.com"})

	require.True(t, IsTempID(temp.ID))
	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Body)
	assert.Equal(t, models.SenderCustomer, msgs[0].SenderType)
}

func TestConfirmSentPreservesPosition(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	tl.IngestRealtime(insertedEvent(agentMessage("msg-1", "hi")))
	temp := tl.AppendOptimistic("question", Identity{Email: "ada@x.com"})
	tl.IngestRealtime(insertedEvent(agentMessage("msg-2", "one moment")))

	server := temp
	server.ID = "msg-3"
	tl.ConfirmSent(temp.ID, server)

	if diff := cmp.Diff([]string{"msg-1", "msg-3", "msg-2"}, visibleIDs(tl)); diff != "" {
		t.Errorf("order changed after confirm (-want +got):\n%s", diff)
	}
}

func TestConfirmSentAfterResetAppendsOnce(t *testing.T) {
	loader := &stubLoader{msgs: []models.Message{agentMessage("msg-1", "hi")}}
	tl := NewTimeline(loader)

	temp := tl.AppendOptimistic("question", Identity{Email: "ada@x.com"})

	// The list is fully replaced before the send response arrives.
	require.NoError(t, tl.LoadInitial(context.Background(), "conv-1"))

	server := agentMessage("msg-2", "question")
	server.SenderType = models.SenderCustomer
	tl.ConfirmSent(temp.ID, server)
	assert.Equal(t, []string{"msg-1", "msg-2"}, visibleIDs(tl))

	// Guarded by id uniqueness: a second confirm cannot double-insert.
	tl.ConfirmSent(temp.ID, server)
	assert.Equal(t, []string{"msg-1", "msg-2"}, visibleIDs(tl))
}

func TestConfirmSentBlocksLateRealtimeEcho(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	temp := tl.AppendOptimistic("hello", Identity{Email: "ada@x.com"})
	server := temp
	server.ID = "msg-1"
	tl.ConfirmSent(temp.ID, server)

	// Network race: the realtime echo of the same logical message lands
	// after the send response was already applied.
	echo := agentMessage("msg-1", "hello")
	echo.SenderType = models.SenderCustomer
	assert.False(t, tl.IngestRealtime(insertedEvent(echo)))
	assert.Equal(t, []string{"msg-1"}, visibleIDs(tl))
}

func TestFailSentRollsBackAndRestoresDraft(t *testing.T) {
	tl := NewTimeline(&stubLoader{})

	temp := tl.AppendOptimistic("Hello", Identity{Email: "ada@x.com"})
	require.Len(t, tl.Messages(), 1)

	tl.FailSent(temp.ID)

	assert.Empty(t, tl.Messages())
	assert.Equal(t, "Hello", tl.Draft())

	tl.ClearDraft()
	assert.Empty(t, tl.Draft())
}

func TestLoadInitialReplacesStateAndFiltersPrivate(t *testing.T) {
	private := agentMessage("msg-note", "internal")
	private.IsPrivate = true
	loader := &stubLoader{msgs: []models.Message{
		agentMessage("msg-1", "hi"),
		private,
		agentMessage("msg-2", "still there?"),
	}}
	tl := NewTimeline(loader)

	tl.IngestRealtime(insertedEvent(agentMessage("stale", "old state")))

	require.NoError(t, tl.LoadInitial(context.Background(), "conv-1"))
	assert.Equal(t, []string{"msg-1", "msg-2"}, visibleIDs(tl))

	// Restartable: calling again on reconnect is safe.
	require.NoError(t, tl.LoadInitial(context.Background(), "conv-1"))
	assert.Equal(t, []string{"msg-1", "msg-2"}, visibleIDs(tl))

	// Already-loaded ids stay deduplicated against the realtime feed.
	assert.False(t, tl.IngestRealtime(insertedEvent(agentMessage("msg-2", "still there?"))))
}
