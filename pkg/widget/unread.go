package widget

import (
	"strconv"
	"time"

	"github.com/trafficai/pkg/models"
)

// UnreadTracker maintains a persisted "last seen" timestamp per conversation
// and derives unread badge counts from it. It works from the already-loaded
// message list when available, or from a server-side count during background
// polling; both paths count non-customer, non-private messages created
// strictly after the marker.
type UnreadTracker struct {
	store Store
	now   func() time.Time
}

// NewUnreadTracker creates a tracker over the given store.
func NewUnreadTracker(store Store) *UnreadTracker {
	return &UnreadTracker{store: store, now: time.Now}
}

// LastSeen returns the persisted marker for a conversation, or the zero time
// when the conversation has never been seen.
func (u *UnreadTracker) LastSeen(conversationID string) time.Time {
	raw, ok := u.store.Get(lastSeenKeyPrefix + conversationID)
	if !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Touch advances the marker to now. Called whenever the widget transitions
// to open, minimized, or closed.
func (u *UnreadTracker) Touch(conversationID string) {
	u.store.Set(lastSeenKeyPrefix+conversationID, u.now().Format(time.RFC3339Nano))
}

// CountIn recomputes the unread count from an already-loaded message list.
func (u *UnreadTracker) CountIn(conversationID string, msgs []models.Message) int {
	lastSeen := u.LastSeen(conversationID)
	count := 0
	for i := range msgs {
		m := &msgs[i]
		if m.SenderType == models.SenderCustomer || m.IsPrivate {
			continue
		}
		if m.CreatedAt.After(lastSeen) {
			count++
		}
	}
	return count
}

// BadgeLabel renders an unread count for display, clamped at "9+".
func BadgeLabel(count int) string {
	switch {
	case count <= 0:
		return ""
	case count > 9:
		return "9+"
	default:
		return strconv.Itoa(count)
	}
}
