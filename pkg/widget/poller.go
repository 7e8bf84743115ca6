package widget

import (
	"sync"
	"time"
)

// Poller is an explicit cancellable repeating task: a fixed-interval tick
// with a deterministic Stop for lifecycle teardown. A tick that fails is
// silently skipped; the next tick simply tries again.
type Poller struct {
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	done    chan struct{}
	started bool
}

// NewPoller creates a poller that runs tick every interval once started.
func NewPoller(interval time.Duration, tick func()) *Poller {
	return &Poller{interval: interval, tick: tick}
}

// Start begins ticking on a background goroutine. Starting an already
// running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}(p.done)
}

// Stop cancels the repeating task. Safe to call multiple times and before
// Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.done)
}

// Running reports whether the poller is currently ticking.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
