package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"townlet.ai/internal/protocol"
)

// Hub fans TICK frames out to subscribers. A subscriber whose buffer is full misses the
// frame instead of slowing the town loop.
type Hub struct {
	mu   sync.Mutex
	subs map[uint64]chan []byte
	next uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]chan []byte{}}
}

// PublishTick implements town.TickSink.
func (h *Hub) PublishTick(msg protocol.TickMsg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.published.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with a buffer of size frames.
func (h *Hub) Subscribe(size int) (id uint64, frames <-chan []byte) {
	if size <= 0 {
		size = 8
	}
	ch := make(chan []byte, size)
	h.mu.Lock()
	h.next++
	id = h.next
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Published() uint64 { return h.published.Load() }
func (h *Hub) Dropped() uint64   { return h.dropped.Load() }
