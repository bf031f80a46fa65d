package notification

import (
	"context"
	"sync"

	"github.com/allisson/recoverability/internal/metrics"
)

// Broadcaster is the Publisher's subscriber in the server. It records the totals as gauges
// and fans them out to any number of listeners.
type Broadcaster struct {
	gauge     metrics.FailureCountGauge
	mu        sync.RWMutex
	latest    *Counts
	listeners map[chan Counts]struct{}
}

// Notify implements Subscriber.
func (b *Broadcaster) Notify(ctx context.Context, counts Counts) {
	b.gauge.Record(ctx, counts.Unresolved, counts.Archived)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = &counts
	for listener := range b.listeners {
		// Slow listeners only ever need the newest totals.
		select {
		case <-listener:
		default:
		}
		listener <- counts
	}
}

// Latest returns the most recent totals, if any were published.
func (b *Broadcaster) Latest() (Counts, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return Counts{}, false
	}
	return *b.latest, true
}

// Listen registers a listener. The returned channel first receives the latest totals, if any.
// Call the returned function to unregister.
func (b *Broadcaster) Listen() (<-chan Counts, func()) {
	listener := make(chan Counts, 1)

	b.mu.Lock()
	b.listeners[listener] = struct{}{}
	if b.latest != nil {
		listener <- *b.latest
	}
	b.mu.Unlock()

	return listener, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, listener)
	}
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(gauge metrics.FailureCountGauge) *Broadcaster {
	if gauge == nil {
		gauge = metrics.NoOpFailureCountGauge{}
	}
	return &Broadcaster{
		gauge:     gauge,
		listeners: make(map[chan Counts]struct{}),
	}
}
