// Package cancel provides the explicit cancellation handle used for agent
// runs: an atomic flag plus a list of cleanup hooks, rather than a bare
// context.CancelFunc, so the
// Scheduler can attach subprocess-kill and drain-completion behavior without
// the LLM transport or Worktree Manager knowing about each other.
package cancel

import (
	"context"
	"sync"
)

// Handle is created once per run by the Scheduler and handed to the Agent
// Runner. Firing it is idempotent: only the first Cancel call runs cleanup
// hooks and closes Done.
type Handle struct {
	mu      sync.Mutex
	fired   bool
	reason  string
	done    chan struct{}
	cleanup []func()
}

// NewHandle returns an unfired handle.
func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Cancel fires the handle, running every registered cleanup hook in
// registration order (subprocess SIGTERM, LLM transport abort, ...). Safe to
// call multiple times and from multiple goroutines; only the first call does
// anything.
func (h *Handle) Cancel(reason string) {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	h.reason = reason
	hooks := h.cleanup
	h.cleanup = nil
	h.mu.Unlock()

	close(h.done)
	for _, fn := range hooks {
		fn()
	}
}

// Fired reports whether Cancel has been called.
func (h *Handle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// Reason returns the reason passed to Cancel, or "" if not yet fired.
func (h *Handle) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Done returns a channel that closes when the handle fires, matching the
// ctx.Done() shape so callers can select on either.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// OnCancel registers a cleanup hook. If the handle has already fired, the
// hook runs immediately (inline, not in a goroutine) so late subscribers
// still observe cancellation.
func (h *Handle) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.cleanup = append(h.cleanup, fn)
	h.mu.Unlock()
}

// Context derives a context.Context from parent that is cancelled when the
// handle fires. This is the bridge the LLM transport's abort signal and any
// spawned subprocess consume.
func (h *Handle) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
