package audio

import (
	"testing"
	"time"
)

func frame(seq uint64) Frame {
	return Frame{Data: []byte{0, 0}, Seq: seq, Timestamp: time.Duration(seq) * 20 * time.Millisecond}
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a := b.Subscribe("a", 4)
	c := b.Subscribe("c", 4)

	b.Publish(frame(1))
	b.Publish(frame(2))

	for _, sub := range []*Subscription{a, c} {
		for want := uint64(1); want <= 2; want++ {
			got := <-sub.Frames()
			if got.Seq != want {
				t.Errorf("subscriber %q: got seq %d, want %d", sub.Name(), got.Seq, want)
			}
		}
	}
}

func TestBusDropOldest(t *testing.T) {
	var droppedFrom []string
	b := NewBus(WithDropFunc(func(name string) { droppedFrom = append(droppedFrom, name) }))
	defer b.Close()

	slow := b.Subscribe("slow", 2)
	fast := b.Subscribe("fast", 8)

	for seq := uint64(1); seq <= 5; seq++ {
		b.Publish(frame(seq))
	}

	// The slow queue held 2 frames; seqs 1-3 were evicted to make room.
	if got := slow.Dropped(); got != 3 {
		t.Errorf("slow.Dropped() = %d, want 3", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("fast.Dropped() = %d, want 0", got)
	}
	for _, want := range []uint64{4, 5} {
		got := <-slow.Frames()
		if got.Seq != want {
			t.Errorf("slow: got seq %d, want %d", got.Seq, want)
		}
	}
	// The fast subscriber saw everything.
	for want := uint64(1); want <= 5; want++ {
		got := <-fast.Frames()
		if got.Seq != want {
			t.Errorf("fast: got seq %d, want %d", got.Seq, want)
		}
	}

	if len(droppedFrom) != 3 {
		t.Fatalf("drop callback fired %d times, want 3", len(droppedFrom))
	}
	for _, name := range droppedFrom {
		if name != "slow" {
			t.Errorf("drop callback reported %q, want %q", name, "slow")
		}
	}
}

func TestBusDefaultCapacity(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe("default", 0)
	for seq := uint64(1); seq <= DefaultQueueFrames; seq++ {
		b.Publish(frame(seq))
	}
	if got := sub.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d after filling default queue, want 0", got)
	}
	b.Publish(frame(DefaultQueueFrames + 1))
	if got := sub.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d after overflow, want 1", got)
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("a", 2)
	b.Publish(frame(1))

	b.Close()
	b.Close() // idempotent

	// Queued frames remain readable, then the channel closes.
	got := <-sub.Frames()
	if got.Seq != 1 {
		t.Errorf("got seq %d, want 1", got.Seq)
	}
	if _, ok := <-sub.Frames(); ok {
		t.Error("channel still open after bus close")
	}

	if s := b.Subscribe("late", 2); s != nil {
		t.Error("Subscribe after Close returned a subscription, want nil")
	}
	b.Publish(frame(2)) // no-op, must not panic
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBus()
	defer b.Close()

	gone := b.Subscribe("gone", 2)
	stay := b.Subscribe("stay", 2)

	gone.Close()
	gone.Close() // idempotent

	if _, ok := <-gone.Frames(); ok {
		t.Error("channel still open after subscription close")
	}

	b.Publish(frame(1))
	got := <-stay.Frames()
	if got.Seq != 1 {
		t.Errorf("stay: got seq %d, want 1", got.Seq)
	}
}
