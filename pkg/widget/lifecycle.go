package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trafficai/pkg/models"
)

// State is the conversation lifecycle state of the widget.
type State string

const (
	// StateNoConversation shows the identification form.
	StateNoConversation State = "no_conversation"
	// StateResuming means a persisted or looked-up conversation is being
	// checked.
	StateResuming State = "resuming"
	// StateActive means a conversation is loaded and messaging is enabled.
	StateActive State = "active"
)

// VisualState is the widget's open/minimized/closed display state.
type VisualState string

const (
	WidgetClosed    VisualState = "closed"
	WidgetOpen      VisualState = "open"
	WidgetMinimized VisualState = "minimized"
)

// DefaultDiscoveryInterval is how often the background poll looks for an
// open conversation belonging to a signed-in user.
const DefaultDiscoveryInterval = 15 * time.Second

const defaultGreeting = "Hi there! How can we help you today?"

// ErrEmailRequired is returned when the identification form is submitted
// without an email.
var ErrEmailRequired = errors.New("email is required")

// Lifecycle owns the widget's conversation state machine: resuming a
// persisted conversation, reusing or creating one on identification, and the
// background discovery poll for authenticated visitors. All operations are
// serialized on one mutex, mirroring the single event loop the widget runs
// on in the browser.
type Lifecycle struct {
	api      API
	store    Store
	timeline *Timeline
	unread   *UnreadTracker

	mu           sync.Mutex
	state        State
	visual       VisualState
	conversation *models.Conversation
	identity     Identity
	greeting     string
	discovery    *Poller
	now          func() time.Time
}

// NewLifecycle creates a widget controller over the given API and store.
func NewLifecycle(api API, store Store) *Lifecycle {
	return &Lifecycle{
		api:      api,
		store:    store,
		timeline: NewTimeline(api),
		unread:   NewUnreadTracker(store),
		state:    StateNoConversation,
		visual:   WidgetClosed,
		greeting: defaultGreeting,
		now:      time.Now,
	}
}

// Timeline exposes the message list for rendering.
func (l *Lifecycle) Timeline() *Timeline { return l.timeline }

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Conversation returns the loaded conversation, or nil.
func (l *Lifecycle) Conversation() *models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversation
}

// Identity returns the customer identity captured at identification.
func (l *Lifecycle) Identity() Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.identity
}

// Resume attempts to restore a conversation from the persisted reference.
// On fetch failure or not-found the reference is cleared and the widget
// falls back to the identification form; resume never escalates an error.
func (l *Lifecycle) Resume(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resumeLocked(ctx)
}

func (l *Lifecycle) resumeLocked(ctx context.Context) {
	ref, ok := l.store.Get(conversationKey)
	if !ok || ref == "" {
		l.state = StateNoConversation
		return
	}

	l.state = StateResuming
	conv, err := l.api.Conversation(ctx, ref)
	if err != nil {
		l.store.Remove(conversationKey)
		l.conversation = nil
		l.state = StateNoConversation
		return
	}

	l.conversation = conv
	l.state = StateActive
	// Best effort: an empty list is a usable state and LoadInitial is
	// restartable on the next open.
	_ = l.timeline.LoadInitial(ctx, conv.ID)
}

// Identify handles the identification form submit. An open conversation for
// the email (matched case-insensitively, most recently created first) is
// reused with its full history; otherwise a new conversation is created and
// a single bot greeting is synthesized as the first visible entry.
func (l *Lifecycle) Identify(ctx context.Context, name, email string) error {
	if models.NormalizeEmail(email) == "" {
		return ErrEmailRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	normalized := models.NormalizeEmail(email)
	l.identity = Identity{Name: name, Email: normalized}

	existing, err := l.api.FindOpenConversation(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to look up conversation: %w", err)
	}

	if existing != nil {
		l.conversation = existing
		l.store.Set(conversationKey, existing.ID)
		l.state = StateActive
		if err := l.timeline.LoadInitial(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		return nil
	}

	conv, err := l.api.CreateConversation(ctx, name, normalized)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	l.conversation = conv
	l.store.Set(conversationKey, conv.ID)
	l.state = StateActive
	l.synthesizeGreetingLocked(conv.ID)
	return nil
}

// synthesizeGreetingLocked inserts the client-side bot greeting. It goes
// through the timeline's realtime path so the usual dedup guards apply.
func (l *Lifecycle) synthesizeGreetingLocked(conversationID string) {
	greeting := models.Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		Body:           l.greeting,
		SenderType:     models.SenderBot,
		CreatedAt:      l.now(),
	}
	l.timeline.IngestRealtime(&Event{
		Type:           EventMessageInserted,
		ConversationID: conversationID,
		Message:        greeting,
	})
}

// Send posts a customer message with optimistic insertion. On failure the
// optimistic entry is rolled back and the draft restored; the returned error
// is suitable for an inline banner, never fatal.
func (l *Lifecycle) Send(ctx context.Context, body string) error {
	l.mu.Lock()
	if l.state != StateActive || l.conversation == nil {
		l.mu.Unlock()
		return fmt.Errorf("no active conversation")
	}
	conversationID := l.conversation.ID
	identity := l.identity
	l.mu.Unlock()

	temp := l.timeline.AppendOptimistic(body, identity)

	server, err := l.api.CreateMessage(ctx, conversationID, body, identity)
	if err != nil {
		l.timeline.FailSent(temp.ID)
		return fmt.Errorf("failed to send message: %w", err)
	}

	l.timeline.ConfirmSent(temp.ID, *server)
	return nil
}

// HandleRealtime feeds a raw realtime payload into the timeline. Malformed
// payloads and events for other conversations are dropped silently. It
// reports whether a message became visible.
func (l *Lifecycle) HandleRealtime(payload []byte) bool {
	ev, err := ParseEvent(payload)
	if err != nil {
		return false
	}

	l.mu.Lock()
	if l.conversation == nil || ev.ConversationID != l.conversation.ID {
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	return l.timeline.IngestRealtime(ev)
}

// OpenWidget transitions the widget to its open state and resets the unread
// marker.
func (l *Lifecycle) OpenWidget() { l.setVisual(WidgetOpen) }

// MinimizeWidget collapses the widget, advancing the unread marker.
func (l *Lifecycle) MinimizeWidget() { l.setVisual(WidgetMinimized) }

// CloseWidget hides the widget, advancing the unread marker.
func (l *Lifecycle) CloseWidget() { l.setVisual(WidgetClosed) }

func (l *Lifecycle) setVisual(v VisualState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visual = v
	if l.conversation != nil {
		l.unread.Touch(l.conversation.ID)
	}
}

// VisualState returns the widget's display state.
func (l *Lifecycle) VisualState() VisualState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visual
}

// UnreadCount computes the current unread badge count: from the loaded list
// when a conversation is active, otherwise via a server-side count against
// the persisted reference. Failures degrade to zero.
func (l *Lifecycle) UnreadCount(ctx context.Context) int {
	l.mu.Lock()
	conv := l.conversation
	l.mu.Unlock()

	if conv != nil {
		return l.unread.CountIn(conv.ID, l.timeline.Messages())
	}

	ref, ok := l.store.Get(conversationKey)
	if !ok || ref == "" {
		return 0
	}
	count, err := l.api.UnreadCount(ctx, ref, l.unread.LastSeen(ref))
	if err != nil {
		return 0
	}
	return count
}

// UnreadBadge renders the unread count for the launcher badge, clamped at
// "9+". An empty string means no badge.
func (l *Lifecycle) UnreadBadge(ctx context.Context) string {
	return BadgeLabel(l.UnreadCount(ctx))
}

// StartDiscovery begins the background poll that looks for an open
// conversation matching a signed-in user's email; it covers conversations
// started by an agent while this tab was inactive. The poll only acts while
// the widget is not open and is silent about failures.
func (l *Lifecycle) StartDiscovery(email string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDiscoveryInterval
	}
	normalized := models.NormalizeEmail(email)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.discovery != nil {
		l.discovery.Stop()
	}
	l.discovery = NewPoller(interval, func() { l.discoverTick(normalized) })
	l.discovery.Start()
}

// StopDiscovery cancels the background poll. Part of widget teardown.
func (l *Lifecycle) StopDiscovery() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.discovery != nil {
		l.discovery.Stop()
		l.discovery = nil
	}
}

func (l *Lifecycle) discoverTick(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.visual == WidgetOpen {
		return
	}

	conv, err := l.api.FindOpenConversation(context.Background(), email)
	if err != nil || conv == nil {
		return
	}

	l.store.Set(conversationKey, conv.ID)
	if l.conversation == nil {
		l.resumeLocked(context.Background())
	}
}
