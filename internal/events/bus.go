// Package events fans relay events out to local subscribers (control API
// streams, the monitor) and to Redis.
package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meshrelay/internal/relay"
)

const defaultBuffer = 32

// Bus is a relay.Sink that copies every event to each subscriber. Publish
// never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan relay.Event
	nextID int
	closed bool

	dropped prometheus.Counter
}

func NewBus(reg prometheus.Registerer) *Bus {
	return &Bus{
		subs: make(map[int]chan relay.Event),
		dropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_events_dropped_total",
			Help: "Events not delivered to a subscriber because its buffer was full",
		}),
	}
}

// Subscribe returns a channel receiving every future event and a cancel
// func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan relay.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan relay.Event, buffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *Bus) Publish(evt relay.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Inc()
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
