package notify

import (
	"context"
	"sync"
	"time"

	"relief.org/internal/obs"
)

// Event is a named message pushed to connected clients. An empty Room
// means broadcast to every subscriber.
type Event struct {
	Name string    `json:"event"`
	Room string    `json:"room,omitempty"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Publisher is the write side of the bus used by the pipeline.
type Publisher interface {
	Publish(evt Event) int
}

// Options configures the Bus.
type Options struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
}

// Bus fans events out to subscribers. Delivery is at-most-once: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	next   int
	buffer int
	now    func() time.Time
}

// New creates an empty bus.
func New(opts Options) *Bus {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 32
	}
	return &Bus{
		subs:   make(map[int]*Subscription),
		buffer: opts.SubscriberBuffer,
		now:    time.Now,
	}
}

// Subscription is one connected client.
type Subscription struct {
	ch chan Event

	mu    sync.RWMutex
	rooms map[string]struct{}
}

// Events returns the delivery channel. It is closed when the subscribe context ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Join adds the subscriber to a room. Callers decide whether joining is allowed.
func (s *Subscription) Join(room string) {
	if room == "" {
		return
	}
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// In reports room membership.
func (s *Subscription) In(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// Subscribe registers a subscriber already joined to rooms.
// The subscription is removed and its channel closed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, rooms ...string) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event, b.buffer),
		rooms: make(map[string]struct{}, len(rooms)),
	}
	for _, r := range rooms {
		sub.Join(r)
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()
	obs.NotifySubscribers.Inc()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
		obs.NotifySubscribers.Dec()
	}()

	return sub
}

// Publish delivers evt without blocking and returns the number of subscribers reached.
func (b *Bus) Publish(evt Event) int {
	if evt.At.IsZero() {
		evt.At = b.now().UTC()
	}
	obs.NotifyPublished.WithLabelValues(evt.Name).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if evt.Room != "" && !sub.In(evt.Room) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			obs.NotifyDropped.Inc()
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
