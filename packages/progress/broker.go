package progress

import "sync"

// Publisher receives progress events as execution advances. Implementations
// must preserve publication order per report.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}

const subscriberBuffer = 256

// Broker fans events out to per-report subscribers in process. Delivery to
// a subscriber is in publication order; a subscriber that falls more than
// its buffer behind loses events rather than stalling the run.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]chan Event)}
}

// Publish implements Publisher. Events for unknown report IDs are dropped.
func (b *Broker) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.ReportID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop instead of blocking execution.
		}
	}
}

// Subscribe registers interest in one report's events. The returned cancel
// closes the channel and releases the subscription.
func (b *Broker) Subscribe(reportID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[reportID] = append(b.subs[reportID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[reportID]
			for i, existing := range subs {
				if existing == ch {
					b.subs[reportID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[reportID]) == 0 {
				delete(b.subs, reportID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
