// Package eventbus delivers work order log entries to live subscribers.
// Delivery is ordered per work order for events published after a
// subscriber attaches; the step history in the store is the only record
// with a completeness guarantee.
package eventbus

import (
	"sync"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
)

const subscriberBuffer = 64

// AllOrders subscribes to every work order's entries
const AllOrders = ""

type subscriber struct {
	orderID string
	ch      chan domain.LogEntry
}

// Bus is an in-process, per-work-order ordered event channel
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

// New creates an event bus
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe attaches a live subscriber for one work order (or AllOrders).
// The cancel func detaches it and closes the channel. A subscriber that
// falls behind loses entries; it never blocks publishers.
func (b *Bus) Subscribe(orderID string) (<-chan domain.LogEntry, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{orderID: orderID, ch: make(chan domain.LogEntry, subscriberBuffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an entry to all matching subscribers in creation order
func (b *Bus) Publish(entry domain.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.orderID != AllOrders && sub.orderID != entry.WorkOrderID {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// Slow subscriber, drop the entry
		}
	}
}

// SubscriberCount returns the number of attached subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
