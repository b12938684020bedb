package controller

import (
	"context"
	"sync"
)

// run is the in-memory record of one plan execution. It exists from Start
// until the run has unwound to idle.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	paused    bool
	resume    chan struct{}
}

func newRun(parent context.Context) *run {
	ctx, cancel := context.WithCancel(parent)
	return &run{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// suspend arms the resume latch and returns the channel that is closed on
// release.
func (r *run) suspend() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return closedChan
	}
	r.paused = true
	r.resume = make(chan struct{})
	return r.resume
}

// release opens the latch if one is armed. Releasing twice is a no-op.
func (r *run) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resume != nil {
		close(r.resume)
		r.resume = nil
	}
	r.paused = false
}

// stop marks the run cancelled, opens the latch and aborts in-flight
// waits on the planner and page.
func (r *run) stop() {
	r.mu.Lock()
	r.cancelled = true
	if r.resume != nil {
		close(r.resume)
		r.resume = nil
	}
	r.mu.Unlock()

	r.cancel()
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *run) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
