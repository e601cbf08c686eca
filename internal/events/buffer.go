package events

import "sync"

// ring holds the newest events in a fixed window and numbers every event it
// has ever accepted.
type ring struct {
	mu    sync.RWMutex
	slots []Event
	head  int // next write position
	n     int // live slots
	seq   uint64
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{slots: make([]Event, capacity)}
}

// push stamps e with the next sequence number and stores it, evicting the
// oldest event when the window is full.
func (r *ring) push(e Event) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e.Seq = r.seq
	r.slots[r.head] = e
	r.head = (r.head + 1) % len(r.slots)
	if r.n < len(r.slots) {
		r.n++
	}
	return e
}

// last returns up to k of the newest events, oldest first. k <= 0 means all.
func (r *ring) last(k int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if k <= 0 || k > r.n {
		k = r.n
	}
	out := make([]Event, k)
	start := r.head - k
	if start < 0 {
		start += len(r.slots)
	}
	for i := range out {
		out[i] = r.slots[(start+i)%len(r.slots)]
	}
	return out
}

// reset empties the window; sequence numbers keep counting.
func (r *ring) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.slots[i] = Event{}
	}
	r.head, r.n = 0, 0
}

func (r *ring) total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}
