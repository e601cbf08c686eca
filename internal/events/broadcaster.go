package events

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a slow client may lag before sends to
// it are dropped.
const subscriberBuffer = 64

// Subscriber receives live events until it is unsubscribed.
type Subscriber chan Event

type hub struct {
	mu      sync.RWMutex
	subs    map[Subscriber]struct{}
	dropped atomic.Uint64
}

var fanout = &hub{subs: make(map[Subscriber]struct{})}

func (h *hub) add() Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) remove(ch Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *hub) removeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// publish never blocks Emit: a full subscriber misses the event.
func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscribe registers a live subscriber.
func Subscribe() Subscriber { return fanout.add() }

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func Unsubscribe(sub Subscriber) { fanout.remove(sub) }

// CloseAllSubscribers closes every subscriber channel. Called on shutdown so
// streaming handlers return.
func CloseAllSubscribers() { fanout.removeAll() }

// SubscriberCount reports the live subscribers.
func SubscriberCount() int { return fanout.len() }

// DroppedCount reports events not delivered to a subscriber whose buffer was full.
func DroppedCount() uint64 { return fanout.dropped.Load() }

// RecentEvents returns up to n of the newest buffered events, oldest first.
// n <= 0 returns the whole buffer.
func RecentEvents(n int) []Event { return buffer.last(n) }
