// Package ratelimit provides the sliding-window token buckets and the
// hierarchical gateway that throttles every LLM and rerank call.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultWindow is the sliding window length. Slightly over a minute so that
// a provider enforcing per-minute limits never sees us ahead of its clock.
const DefaultWindow = 62 * time.Second

// retryPad is added to the computed sleep before re-checking capacity.
const retryPad = time.Second

// event is a single reservation in the window.
type event struct {
	ts     time.Time
	weight int
	id     string
}

// Bucket is a sliding-window limiter: at most capacity units may be reserved
// within any window. Every reservation is tagged with a unique event id so
// callers can refund exactly the units they reserved, even when many workers
// share one bucket.
type Bucket struct {
	capacity int
	window   time.Duration

	mu       sync.Mutex
	events   []event
	inWindow int
	nextID   int64

	// now is swappable for tests.
	now func() time.Time
}

// NewBucket creates a bucket holding capacity units per window.
// A zero window uses DefaultWindow.
func NewBucket(capacity int, window time.Duration) *Bucket {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Bucket{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Capacity returns the configured capacity.
func (b *Bucket) Capacity() int { return b.capacity }

// purge drops events that have aged out of the sliding window.
// Caller must hold b.mu.
func (b *Bucket) purge(now time.Time) {
	i := 0
	for i < len(b.events) && now.Sub(b.events[i].ts) >= b.window {
		b.inWindow -= b.events[i].weight
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

// Acquire reserves weight units, blocking until they fit in the window.
// It returns the event id of the reservation. The reservation expires
// naturally after one window; use CreditByID to refund surplus earlier.
func (b *Bucket) Acquire(ctx context.Context, weight int) (string, error) {
	for {
		b.mu.Lock()
		now := b.now()
		b.purge(now)

		if b.inWindow+weight <= b.capacity {
			id := strconv.FormatInt(b.nextID, 10)
			b.nextID++
			b.events = append(b.events, event{ts: now, weight: weight, id: id})
			b.inWindow += weight
			b.mu.Unlock()
			return id, nil
		}

		// Wait for the earliest event to expire, then retry from scratch.
		var sleep time.Duration
		if len(b.events) == 0 {
			// weight alone exceeds capacity and nothing will ever free up
			sleep = retryPad
		} else {
			sleep = b.window - now.Sub(b.events[0].ts) + retryPad
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// CreditByID refunds up to delta units to the reservation identified by id.
// A no-op if the event already aged out, so refunds can never drive the
// window load negative or double-credit an expired reservation.
func (b *Bucket) CreditByID(id string, delta int) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purge(b.now())

	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].id != id {
			continue
		}
		refund := delta
		if refund > b.events[i].weight {
			refund = b.events[i].weight
		}
		b.inWindow -= refund
		if refund == b.events[i].weight {
			b.events = append(b.events[:i], b.events[i+1:]...)
		} else {
			b.events[i].weight -= refund
		}
		break
	}
	if b.inWindow < 0 {
		b.inWindow = 0
	}
}

// CurrentLoad returns the total units currently reserved in the window.
func (b *Bucket) CurrentLoad() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purge(b.now())
	return b.inWindow
}
