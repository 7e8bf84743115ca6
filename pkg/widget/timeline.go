package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trafficai/pkg/models"
)

// MessageLoader fetches the visible message history for a conversation,
// ordered by creation time ascending.
type MessageLoader interface {
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Identity names the customer on whose behalf optimistic messages are sent.
type Identity struct {
	Name  string
	Email string
}

// Timeline merges three concurrent inputs into one ordered, duplicate-free
// message list: the initial fetch, the customer's own optimistic sends, and
// asynchronously arriving realtime events.
//
// Ordering is established by the initial load; later appends (optimistic or
// realtime) are assumed newer and go to the tail without re-sorting.
type Timeline struct {
	mu        sync.Mutex
	loader    MessageLoader
	messages  []models.Message
	processed map[string]struct{}
	pending   map[string]PendingMutation[models.Message]
	draft     string
	now       func() time.Time
}

// NewTimeline creates an empty timeline backed by the given loader.
func NewTimeline(loader MessageLoader) *Timeline {
	return &Timeline{
		loader:    loader,
		processed: make(map[string]struct{}),
		pending:   make(map[string]PendingMutation[models.Message]),
		now:       time.Now,
	}
}

// LoadInitial replaces the timeline with the conversation's full visible
// history. It is restartable: safe to call again on reconnect or resume.
func (t *Timeline) LoadInitial(ctx context.Context, conversationID string) error {
	history, err := t.loader.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = t.messages[:0]
	t.processed = make(map[string]struct{})
	for _, msg := range history {
		// The server only returns customer-visible rows, but private
		// messages must never surface through any code path.
		if msg.IsPrivate {
			continue
		}
		t.messages = append(t.messages, msg)
		t.processed[msg.ID] = struct{}{}
	}
	return nil
}

// AppendOptimistic synchronously inserts a locally-constructed customer
// message at the tail, before any network round trip, and returns it for
// later reconciliation via ConfirmSent or FailSent.
func (t *Timeline) AppendOptimistic(body string, sender Identity) models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := models.Message{
		ID:         NewTempID(),
		Body:       body,
		SenderType: models.SenderCustomer,
		CreatedAt:  t.now(),
	}
	if sender.Name != "" {
		name := sender.Name
		msg.SenderName = &name
	}

	t.messages = append(t.messages, msg)
	t.pending[msg.ID] = NewPendingMutation(msg.ID, msg, body)
	return msg
}

// ConfirmSent replaces the optimistic entry with the server-confirmed record
// in place, preserving its list position. If the entry is gone (the list was
// reset), the server record is appended instead, guarded by id uniqueness.
func (t *Timeline) ConfirmSent(tempID string, server models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, tempID)
	t.processed[server.ID] = struct{}{}

	for i := range t.messages {
		if t.messages[i].ID == tempID {
			t.messages[i] = server
			return
		}
	}
	if !t.containsLocked(server.ID) {
		t.messages = append(t.messages, server)
	}
}

// FailSent removes the optimistic entry and restores the original body text
// to the compose draft so the user does not lose what they typed.
func (t *Timeline) FailSent(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pm, ok := t.pending[tempID]; ok {
		t.draft = pm.Original
		delete(t.pending, tempID)
	}

	for i := range t.messages {
		if t.messages[i].ID == tempID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

// IngestRealtime applies an inserted-row event to the timeline. It reports
// whether the message became visible. Dropped outright: private messages,
// customer-authored rows (those are handled exclusively by the optimistic
// path), and ids already present or already processed.
func (t *Timeline) IngestRealtime(ev *Event) bool {
	if ev == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	msg := ev.Message
	if msg.IsPrivate {
		return false
	}
	if msg.SenderType == models.SenderCustomer {
		return false
	}
	if _, done := t.processed[msg.ID]; done {
		return false
	}
	if t.containsLocked(msg.ID) {
		return false
	}

	t.messages = append(t.messages, msg)
	t.processed[msg.ID] = struct{}{}
	return true
}

// Messages returns a copy of the visible list in display order.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Draft returns the compose box contents restored by a failed send.
func (t *Timeline) Draft() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft
}

// ClearDraft empties the restored draft once the user has picked it up.
func (t *Timeline) ClearDraft() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draft = ""
}

func (t *Timeline) containsLocked(id string) bool {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return true
		}
	}
	return false
}
