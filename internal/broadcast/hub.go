package broadcast

import (
	"sort"
	"sync"
	"sync/atomic"

	"aerosense-sim/internal/telemetry"
)

// Subscription is one consumer's view of the hub. Events arrive on C in publish
// order; C is closed when the subscription is removed or the hub is closed.
type Subscription struct {
	ID     string
	C      <-chan telemetry.Event
	ch     chan telemetry.Event
	policy Policy

	// serializes evict+send for DropOldest
	sendMu  sync.Mutex
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// offer enqueues ev and reports how many events were dropped doing so.
func (s *Subscription) offer(ev telemetry.Event) int {
	select {
	case s.ch <- ev:
		s.sent.Add(1)
		return 0
	default:
	}
	if s.policy == DropNewest {
		s.dropped.Add(1)
		return 1
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	evicted := 0
	for {
		select {
		case s.ch <- ev:
			s.sent.Add(1)
			return evicted
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			evicted++
		default:
		}
	}
}

// DropFunc is notified of every event dropped for a subscriber.
type DropFunc func(subscriberID string)

// Hub fans events out to subscribers without ever blocking the publisher.
type Hub struct {
	mu             sync.RWMutex
	subscribers    map[string]*Subscription
	totalPublished atomic.Uint64
	closed         bool
	onDrop         DropFunc
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]*Subscription)}
}

// OnDrop installs a callback invoked for each dropped event. It must be set
// before the first Publish.
func (h *Hub) OnDrop(fn DropFunc) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers a new bounded queue.
func (h *Hub) Subscribe(id string, opts Options) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if _, exists := h.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	ch := make(chan telemetry.Event, size)
	sub := &Subscription{ID: id, C: ch, ch: ch, policy: opts.Policy}
	h.subscribers[id] = sub
	return sub, nil
}

// Publish hands ev to every subscriber. A full queue is resolved by the
// subscriber's policy, never by waiting.
func (h *Hub) Publish(ev telemetry.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	h.totalPublished.Add(1)

	for id, sub := range h.subscribers {
		dropped := sub.offer(ev)
		if h.onDrop != nil {
			for i := 0; i < dropped; i++ {
				h.onDrop(id)
			}
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, exists := h.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(h.subscribers, id)
	close(sub.ch)
	return nil
}

// Stats returns the counters of one subscriber.
func (h *Hub) Stats(id string) (Stats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, exists := h.subscribers[id]
	if !exists {
		return Stats{}, ErrSubscriberNotFound
	}
	return Stats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load(), Queued: len(sub.ch)}, nil
}

// Subscribers returns the registered subscriber ids, sorted.
func (h *Hub) Subscribers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Published returns how many events were published since the hub was created.
func (h *Hub) Published() uint64 {
	return h.totalPublished.Load()
}

// Close shuts the hub down and closes every subscriber channel. Later calls
// to Publish are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subscribers {
		close(sub.ch)
	}
	h.subscribers = nil
}
