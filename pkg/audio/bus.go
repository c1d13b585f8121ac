package audio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrSourceClosed is returned by [Source.Read] after the source has been closed.
var ErrSourceClosed = errors.New("audio: source is closed")

// ErrBusClosed is returned by [Bus.Subscribe] after the bus has been closed.
var ErrBusClosed = errors.New("audio: bus is closed")

// DefaultQueueFrames is the default per-subscriber queue capacity.
// At 20 ms per frame this absorbs roughly one second of jitter.
const DefaultQueueFrames = 50

// DropFunc is invoked (from the publisher goroutine) each time a frame is
// evicted from a subscriber's queue. Implementations must not block.
type DropFunc func(subscriber string)

// Bus distributes capture frames to multiple consumers without ever blocking
// the producer. Each subscriber owns a bounded queue; when a queue is full
// the oldest unread frame for that subscriber only is evicted and the
// subscriber's drop counter increments.
//
// Bus expects a single publishing goroutine (the capture loop). Subscribe
// and Close are safe to call from any goroutine.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
	onDrop DropFunc
}

// BusOption configures a [Bus].
type BusOption func(*Bus)

// WithDropFunc registers a callback invoked on every evicted frame, in
// addition to the per-subscription counter. Used to wire drop metrics.
func WithDropFunc(fn DropFunc) BusOption {
	return func(b *Bus) { b.onDrop = fn }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new consumer with the given queue capacity.
// If capacity is not positive, [DefaultQueueFrames] is used.
// Returns nil if the bus is already closed.
func (b *Bus) Subscribe(name string, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueFrames
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	s := &Subscription{
		name: name,
		ch:   make(chan Frame, capacity),
		bus:  b,
	}
	b.subs = append(b.subs, s)
	return s
}

// Publish delivers f to every live subscriber. It never blocks: a full
// subscriber queue loses its oldest frame to make room. Publishing on a
// closed bus is a no-op.
//
// The bus lock is held across the fan-out so that a concurrent Close cannot
// close a subscriber channel mid-send; every send below is non-blocking, so
// the critical section stays short.
func (b *Bus) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	onDrop := b.onDrop

	for _, s := range b.subs {
		select {
		case s.ch <- f:
			continue
		default:
		}

		// Queue full: evict the oldest frame for this subscriber only.
		select {
		case <-s.ch:
		default:
		}
		s.recordDrop(onDrop)

		select {
		case s.ch <- f:
		default:
			// Unreachable with a single producer; counted rather than
			// blocking if the invariant is ever violated.
			s.recordDrop(onDrop)
		}
	}
}

// Close terminates the bus and closes every subscriber channel. Safe to call
// more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.closeLocked()
	}
	b.subs = nil
}

// remove detaches s from the bus.
func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			s.closeLocked()
			return
		}
	}
}

// Subscription is one consumer's view of the bus. A Subscription must be
// drained by exactly one goroutine.
type Subscription struct {
	name    string
	ch      chan Frame
	bus     *Bus
	dropped atomic.Uint64
	closed  atomic.Bool
	warn    sync.Once
}

// Name returns the subscriber label passed to [Bus.Subscribe].
func (s *Subscription) Name() string { return s.name }

// Frames returns the receive channel. It is closed when the subscription or
// the bus is closed; any frames still queued at that point are discarded by
// the runtime once the reader stops.
func (s *Subscription) Frames() <-chan Frame { return s.ch }

// Dropped returns the total number of frames evicted from this subscriber's
// queue since Subscribe.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

func (s *Subscription) recordDrop(onDrop DropFunc) {
	s.dropped.Add(1)
	s.warn.Do(func() {
		slog.Warn("audio bus: subscriber queue full, dropping oldest frames",
			"subscriber", s.name,
			"capacity", cap(s.ch),
		)
	})
	if onDrop != nil {
		onDrop(s.name)
	}
}

// closeLocked closes the channel once. Callers hold bus.mu or have removed
// the subscription from the publish set.
func (s *Subscription) closeLocked() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
