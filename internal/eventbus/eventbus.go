// Package eventbus is the per-process publish/subscribe fan-out for
// ActivityEvents, keyed by featureId: history replay plus a bounded
// per-subscriber channel with drop-oldest on slow consumers. The bus hands
// typed events to channels; transports (SSE, IPC) sit above it.
package eventbus

import (
	"sync"

	"github.com/automaker/automaker/internal/model"
)

// DefaultHistory is how many past events a new subscriber replays before
// switching to live delivery.
const DefaultHistory = 200

// DefaultBufferSize bounds each subscriber's channel; beyond this, the
// subscriber's oldest buffered event is dropped and Dropped increments.
const DefaultBufferSize = 64

type subscriber struct {
	ch     chan model.ActivityEvent
	done   chan struct{}
	closed bool
}

// feed is the per-feature ring buffer of recent events plus its live
// subscriber set.
type feed struct {
	mu          sync.Mutex
	history     []model.ActivityEvent
	subscribers map[uint64]*subscriber
	nextID      uint64
	dropped     uint64
}

// Bus is the process-wide Event Bus. One feed is created lazily per
// featureId on first publish or subscribe.
type Bus struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

func New() *Bus {
	return &Bus{feeds: map[string]*feed{}}
}

func (b *Bus) feedFor(featureID string) *feed {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.feeds[featureID]
	if !ok {
		f = &feed{subscribers: map[uint64]*subscriber{}}
		b.feeds[featureID] = f
	}
	return f
}

// Publish is non-blocking: it never waits on a slow subscriber. Ordering for
// a single featureId is preserved across all subscribers; no ordering is
// guaranteed across features.
func (b *Bus) Publish(event model.ActivityEvent) {
	f := b.feedFor(event.FeatureID)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, event)
	if len(f.history) > DefaultHistory {
		f.history = f.history[len(f.history)-DefaultHistory:]
	}

	for id, sub := range f.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Buffer full: drop the oldest by receiving one then sending,
			// matching the broadcaster's drop-oldest policy.
			select {
			case <-sub.ch:
				f.dropped++
			default:
			}
			select {
			case sub.ch <- event:
			default:
				f.dropped++
			}
		}
		_ = id
	}
}

// Subscription is returned by Subscribe. Events replays history then live
// events; call Cancel to release the subscriber's buffer.
type Subscription struct {
	Events <-chan model.ActivityEvent
	Cancel func()
}

// Subscribe replays the last DefaultHistory events for featureID then
// streams new ones live.
func (b *Bus) Subscribe(featureID string) Subscription {
	f := b.feedFor(featureID)
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	sub := &subscriber{
		ch:   make(chan model.ActivityEvent, DefaultBufferSize+len(f.history)),
		done: make(chan struct{}),
	}
	for _, e := range f.history {
		sub.ch <- e
	}
	f.subscribers[id] = sub

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.subscribers[id]; ok && !existing.closed {
			existing.closed = true
			close(existing.ch)
			delete(f.subscribers, id)
		}
	}
	return Subscription{Events: sub.ch, Cancel: cancel}
}

// Dropped reports how many events have been discarded for featureID due to a
// slow subscriber, for observability.
func (b *Bus) Dropped(featureID string) uint64 {
	f := b.feedFor(featureID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
