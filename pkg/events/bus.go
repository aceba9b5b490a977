package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer bounds how far a slow client may fall behind before it is
// dropped. The pipeline never blocks on delivery.
const subscriberBuffer = 256

// Subscription is one client's view of a channel. Events() is closed when the
// subscription is cancelled or the subscriber is dropped for falling behind.
type Subscription struct {
	id      string
	channel string
	events  chan Event
}

// Events returns the subscriber's receive channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Bus fans pipeline events out to channel subscribers. One Bus instance per
// process.
type Bus struct {
	mu sync.RWMutex
	// channel → subscription id → subscription
	channels map[string]map[string]*Subscription
	logger   *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		channels: make(map[string]map[string]*Subscription),
		logger:   logger,
	}
}

// Subscribe registers a new subscriber on a channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		channel: channel,
		events:  make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[channel]; !ok {
		b.channels[channel] = make(map[string]*Subscription)
	}
	b.channels[channel][sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish stamps the event and delivers it to every subscriber of the
// channel. Subscribers whose buffers are full are dropped rather than
// blocking the pipeline.
func (b *Bus) Publish(channel string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock: Unsubscribe closes the channel only
	// under the write lock, so a close can never race an in-flight send. The
	// sends are non-blocking, so holding the lock is cheap.
	b.mu.RLock()
	var dead []*Subscription
	for _, sub := range b.channels[channel] {
		select {
		case sub.events <- ev:
		default:
			dead = append(dead, sub)
		}
	}
	b.mu.RUnlock()

	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, sub := range dead {
		b.logger.Warn("dropping slow event subscriber",
			slog.String("channel", channel), slog.String("subscription_id", sub.id))
		b.removeLocked(sub)
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *Bus) removeLocked(sub *Subscription) {
	subs, ok := b.channels[sub.channel]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.channels, sub.channel)
	}
	close(sub.events)
}
