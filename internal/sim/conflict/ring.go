package conflict

import "townlet.ai/internal/protocol"

const DefaultRingCapacity = 256

// RivalryRing is a fixed-capacity FIFO. Pushing into a full ring overwrites the oldest entry.
type RivalryRing struct {
	buf  []protocol.RivalryEvent
	head int // index of the oldest entry
	n    int

	dropped int
}

func NewRivalryRing(capacity int) *RivalryRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RivalryRing{buf: make([]protocol.RivalryEvent, capacity)}
}

func (r *RivalryRing) Cap() int { return len(r.buf) }
func (r *RivalryRing) Len() int { return r.n }

// Dropped counts entries overwritten before they were drained.
func (r *RivalryRing) Dropped() int { return r.dropped }

func (r *RivalryRing) Push(ev protocol.RivalryEvent) {
	if r.n == len(r.buf) {
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = ev
	r.n++
}

// Items returns the buffered entries oldest first without removing them.
func (r *RivalryRing) Items() []protocol.RivalryEvent {
	if r.n == 0 {
		return nil
	}
	out := make([]protocol.RivalryEvent, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// Drain returns every buffered entry oldest first and empties the ring.
func (r *RivalryRing) Drain() []protocol.RivalryEvent {
	out := r.Items()
	r.Clear()
	return out
}

// Retain keeps the entries for which keep returns true, preserving order.
func (r *RivalryRing) Retain(keep func(protocol.RivalryEvent) bool) {
	items := r.Items()
	r.Clear()
	for _, ev := range items {
		if keep(ev) {
			r.Push(ev)
		}
	}
}

func (r *RivalryRing) Clear() {
	for i := range r.buf {
		r.buf[i] = protocol.RivalryEvent{}
	}
	r.head = 0
	r.n = 0
}
