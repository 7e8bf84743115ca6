package widget

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollerTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int64
	p := NewPoller(5*time.Millisecond, func() { ticks.Add(1) })

	p.Start()
	assert.True(t, p.Running())

	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, ticks.Load(), int64(2))

	p.Stop()
	assert.False(t, p.Running())

	settled := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load(), "no ticks after Stop")
}

func TestPollerStopIsIdempotent(t *testing.T) {
	p := NewPoller(time.Minute, func() {})

	// Stop before Start and repeated stops must not panic.
	p.Stop()
	p.Start()
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
}

func TestPollerStartTwiceKeepsOneLoop(t *testing.T) {
	var ticks atomic.Int64
	p := NewPoller(5*time.Millisecond, func() { ticks.Add(1) })

	p.Start()
	p.Start()
	defer p.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.Running())
}
