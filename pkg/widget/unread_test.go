package widget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trafficai/pkg/models"
)

func TestUnreadCountsOnlyVisibleNonCustomerMessages(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewUnreadTracker(store)

	base := time.Now()
	tracker.now = func() time.Time { return base }
	tracker.Touch("conv-1")

	private := agentMessage("m-note", "internal")
	private.IsPrivate = true
	private.CreatedAt = base.Add(time.Minute)

	mine := agentMessage("m-mine", "my question")
	mine.SenderType = models.SenderCustomer
	mine.CreatedAt = base.Add(time.Minute)

	older := agentMessage("m-old", "before last seen")
	older.CreatedAt = base.Add(-time.Minute)

	fresh := agentMessage("m-new", "agent reply")
	fresh.CreatedAt = base.Add(time.Minute)

	bot := agentMessage("m-bot", "bot reply")
	bot.SenderType = models.SenderBot
	bot.CreatedAt = base.Add(2 * time.Minute)

	count := tracker.CountIn("conv-1", []models.Message{private, mine, older, fresh, bot})
	assert.Equal(t, 2, count)
}

func TestUnreadZeroWhenNeverSeenIsEverything(t *testing.T) {
	tracker := NewUnreadTracker(NewMemoryStore())

	// No marker yet: every visible agent message counts.
	msgs := []models.Message{agentMessage("m-1", "a"), agentMessage("m-2", "b")}
	assert.Equal(t, 2, tracker.CountIn("conv-1", msgs))
}

func TestTouchAdvancesMarker(t *testing.T) {
	store := NewMemoryStore()
	tracker := NewUnreadTracker(store)

	assert.True(t, tracker.LastSeen("conv-1").IsZero())

	now := time.Now()
	tracker.now = func() time.Time { return now }
	tracker.Touch("conv-1")

	assert.WithinDuration(t, now, tracker.LastSeen("conv-1"), time.Millisecond)
}

func TestLastSeenIgnoresCorruptValue(t *testing.T) {
	store := NewMemoryStore()
	store.Set(lastSeenKeyPrefix+"conv-1", "not-a-timestamp")

	tracker := NewUnreadTracker(store)
	assert.True(t, tracker.LastSeen("conv-1").IsZero())
}

func TestBadgeLabelClampsAtNine(t *testing.T) {
	assert.Equal(t, "", BadgeLabel(0))
	assert.Equal(t, "", BadgeLabel(-3))
	assert.Equal(t, "1", BadgeLabel(1))
	assert.Equal(t, "9", BadgeLabel(9))
	assert.Equal(t, "9+", BadgeLabel(10))
	assert.Equal(t, "9+", BadgeLabel(124))
}
