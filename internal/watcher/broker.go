package watcher

import (
	"context"
	"sync"
)

// EventType discriminates watcher events.
type EventType int

const (
	// DBChanged means the registry store file was modified.
	DBChanged EventType = iota
)

// Event is published to subscribers when the watched file changes.
type Event struct {
	Type EventType
	Path string
}

// subscription pairs a channel with a close guard: the subscriber's context
// and the broker's closeAll can both end a subscription, and only one of
// them may close the channel.
type subscription struct {
	ch   chan Event
	once sync.Once
}

// Broker fans watcher events out to context-scoped subscribers. Slow
// subscribers drop events rather than blocking the watcher.
type Broker struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscription]struct{})}
}

// Subscribe returns a channel receiving events until ctx is done. The
// channel is closed on unsubscribe.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscription{ch: make(chan Event, 16)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()

	return sub.ch
}

// remove drops the subscription and closes its channel exactly once.
func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()

	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Subscriber is saturated; the periodic safety-net pass in the
			// consumer covers the dropped event.
		}
	}
}

// closeAll ends every remaining subscription. Called by the watcher on
// Stop; racing context cancellations are safe against the per-sub guard.
func (b *Broker) closeAll() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.remove(sub)
	}
}
