package widget

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficai/pkg/models"
)

// fakeAPI implements API in memory for lifecycle tests.
type fakeAPI struct {
	conversations map[string]*models.Conversation
	openByEmail   map[string]*models.Conversation
	messages      map[string][]models.Message

	lookupErr error
	sendErr   error

	createdConversations int
	nextID               int
	remoteUnread         int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		conversations: make(map[string]*models.Conversation),
		openByEmail:   make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (f *fakeAPI) addOpenConversation(id, email string, history ...models.Message) *models.Conversation {
	conv := &models.Conversation{
		ID:            id,
		CustomerEmail: email,
		Status:        models.ConversationOpen,
		CreatedAt:     time.Now(),
	}
	f.conversations[id] = conv
	f.openByEmail[email] = conv
	f.messages[id] = history
	return conv
}

func (f *fakeAPI) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeAPI) FindOpenConversation(ctx context.Context, email string) (*models.Conversation, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.openByEmail[models.NormalizeEmail(email)], nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, name, email string) (*models.Conversation, error) {
	f.createdConversations++
	f.nextID++
	id := fmt.Sprintf("conv-%d", f.nextID)
	conv := f.addOpenConversation(id, models.NormalizeEmail(email))
	if name != "" {
		conv.CustomerName = &name
	}
	return conv, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, conversationID, body string, sender Identity) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	msg := models.Message{
		ID:             fmt.Sprintf("msg-%d", f.nextID),
		ConversationID: conversationID,
		Body:           body,
		SenderType:     models.SenderCustomer,
		CreatedAt:      time.Now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return &msg, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context, conversationID string, since time.Time) (int, error) {
	return f.remoteUnread, nil
}

func TestIdentifyRequiresEmail(t *testing.T) {
	l := NewLifecycle(newFakeAPI(), NewMemoryStore())

	err := l.Identify(context.Background(), "Ada", "   ")
	assert.ErrorIs(t, err, ErrEmailRequired)
	assert.Equal(t, StateNoConversation, l.State())
}

func TestIdentifyCreatesConversationWithGreeting(t *testing.T) {
	api := newFakeAPI()
	l := NewLifecycle(api, NewMemoryStore())

	require.NoError(t, l.Identify(context.Background(), "Ada", "a@x.com"))

	assert.Equal(t, StateActive, l.State())
	assert.Equal(t, 1, api.createdConversations)

	msgs := l.Timeline().Messages()
	require.Len(t, msgs, 1, "greeting should be the sole entry")
	assert.Equal(t, models.SenderBot, msgs[0].SenderType)
	assert.NotEmpty(t, msgs[0].Body)
}

func TestIdentifyReusesOpenConversation(t *testing.T) {
	api := newFakeAPI()
	api.addOpenConversation("conv-7", "a@x.com",
		agentMessage("msg-1", "hi there"),
		agentMessage("msg-2", "anything else?"),
	)
	store := NewMemoryStore()
	l := NewLifecycle(api, store)

	// Mixed-case submit must still match: the lookup is case-insensitive.
	require.NoError(t, l.Identify(context.Background(), "Ada", "A@X.com"))

	assert.Equal(t, 0, api.createdConversations, "no second conversation")
	require.NotNil(t, l.Conversation())
	assert.Equal(t, "conv-7", l.Conversation().ID)
	assert.Len(t, l.Timeline().Messages(), 2)

	ref, ok := store.Get(conversationKey)
	require.True(t, ok)
	assert.Equal(t, "conv-7", ref)
}

func TestIdentifyLookupFailureLeavesFormState(t *testing.T) {
	api := newFakeAPI()
	api.lookupErr = errors.New("network down")
	l := NewLifecycle(api, NewMemoryStore())

	err := l.Identify(context.Background(), "Ada", "a@x.com")
	require.Error(t, err)
	assert.Equal(t, StateNoConversation, l.State())
	assert.Nil(t, l.Conversation())
}

func TestResumeRestoresPersistedConversation(t *testing.T) {
	api := newFakeAPI()
	api.addOpenConversation("conv-9", "a@x.com", agentMessage("msg-1", "hello again"))
	store := NewMemoryStore()
	store.Set(conversationKey, "conv-9")

	l := NewLifecycle(api, store)
	l.Resume(context.Background())

	assert.Equal(t, StateActive, l.State())
	require.NotNil(t, l.Conversation())
	assert.Equal(t, "conv-9", l.Conversation().ID)
	assert.Len(t, l.Timeline().Messages(), 1)
}

func TestResumeClearsStaleReference(t *testing.T) {
	store := NewMemoryStore()
	store.Set(conversationKey, "conv-gone")

	l := NewLifecycle(newFakeAPI(), store)
	l.Resume(context.Background())

	assert.Equal(t, StateNoConversation, l.State())
	_, ok := store.Get(conversationKey)
	assert.False(t, ok, "stale reference should be discarded")
}

func TestSendFailureRollsBackAndRestoresDraft(t *testing.T) {
	api := newFakeAPI()
	l := NewLifecycle(api, NewMemoryStore())
	require.NoError(t, l.Identify(context.Background(), "Ada", "a@x.com"))

	api.sendErr = errors.New("connection reset")
	err := l.Send(context.Background(), "Hello")
	require.Error(t, err)

	// Only the greeting remains; the draft came back exactly as typed.
	assert.Len(t, l.Timeline().Messages(), 1)
	assert.Equal(t, "Hello", l.Timeline().Draft())
}

func TestSendConfirmsOptimisticMessage(t *testing.T) {
	api := newFakeAPI()
	l := NewLifecycle(api, NewMemoryStore())
	require.NoError(t, l.Identify(context.Background(), "Ada", "a@x.com"))

	require.NoError(t, l.Send(context.Background(), "Hello"))

	msgs := l.Timeline().Messages()
	require.Len(t, msgs, 2)
	last := msgs[len(msgs)-1]
	assert.False(t, IsTempID(last.ID), "temp id should be replaced by the server id")
	assert.Equal(t, "Hello", last.Body)
}

func TestRealtimeWhileClosedIncrementsUnread(t *testing.T) {
	api := newFakeAPI()
	api.addOpenConversation("conv-3", "a@x.com")
	store := NewMemoryStore()
	store.Set(conversationKey, "conv-3")

	l := NewLifecycle(api, store)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l.unread.now = func() time.Time { return base }
	l.Resume(context.Background())
	l.CloseWidget()

	incoming := agentMessage("msg-50", "are you there?")
	incoming.ConversationID = "conv-3"
	incoming.CreatedAt = base.Add(time.Second)
	payload := fmt.Sprintf(
		`{"type":"message.inserted","conversation_id":"conv-3","message":{"id":%q,"conversation_id":"conv-3","body":"are you there?","sender_type":"agent","created_at":%q}}`,
		incoming.ID, incoming.CreatedAt.Format(time.RFC3339Nano),
	)

	assert.True(t, l.HandleRealtime([]byte(payload)))
	assert.Equal(t, 1, l.UnreadCount(context.Background()))
	assert.Equal(t, "1", l.UnreadBadge(context.Background()))

	l.OpenWidget()
	assert.Equal(t, 0, l.UnreadCount(context.Background()))
}

func TestHandleRealtimeDropsMalformedAndForeignPayloads(t *testing.T) {
	api := newFakeAPI()
	api.addOpenConversation("conv-3", "a@x.com")
	store := NewMemoryStore()
	store.Set(conversationKey, "conv-3")

	l := NewLifecycle(api, store)
	l.Resume(context.Background())

	assert.False(t, l.HandleRealtime([]byte(`{not json`)))
	assert.False(t, l.HandleRealtime([]byte(`{"type":"presence.changed"}`)))
	assert.False(t, l.HandleRealtime([]byte(
		`{"type":"message.inserted","conversation_id":"conv-other","message":{"id":"m1","sender_type":"agent"}}`)))
	assert.Empty(t, l.Timeline().Messages())
}

func TestDiscoveryAdoptsAgentCreatedConversation(t *testing.T) {
	api := newFakeAPI()
	store := NewMemoryStore()
	l := NewLifecycle(api, store)
	l.CloseWidget()

	// Nothing to find yet: the tick is a silent no-op.
	l.discoverTick("a@x.com")
	assert.Equal(t, StateNoConversation, l.State())

	// An agent opens a thread for the signed-in user on the backend.
	api.addOpenConversation("conv-4", "a@x.com", agentMessage("msg-1", "following up"))

	l.discoverTick("a@x.com")
	assert.Equal(t, StateActive, l.State())
	require.NotNil(t, l.Conversation())
	assert.Equal(t, "conv-4", l.Conversation().ID)

	ref, _ := store.Get(conversationKey)
	assert.Equal(t, "conv-4", ref)
}

func TestDiscoverySkipsWhileWidgetOpen(t *testing.T) {
	api := newFakeAPI()
	api.addOpenConversation("conv-5", "a@x.com")
	store := NewMemoryStore()
	l := NewLifecycle(api, store)
	l.OpenWidget()

	l.discoverTick("a@x.com")

	_, ok := store.Get(conversationKey)
	assert.False(t, ok, "poll must not act while the widget is open")
}
