// Package changes delivers a signal whenever a user's notification log gains new entries, so that
// listeners can react without polling the log.
package changes

import (
	"context"
	"sync"

	"github.com/cyverse-de/meeting-notifier/logging"
	"github.com/cyverse-de/meeting-notifier/model"
)

var log = logging.ForPackage("changes")

// Change describes new entries in a user's notification log.
type Change struct {
	UserID model.ID
	Added  []model.NotificationEvent
	Unread int
}

// Publisher describes anything that can announce a change.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Broadcaster is an in-process publisher that fans changes out to subscribers. Slow subscribers
// miss changes rather than blocking the publisher.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Change
	next        int
	buffer      int
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold up to buffer pending changes.
func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan Change),
		buffer:      buffer,
	}
}

// Subscribe registers a new listener. The returned function unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Change, b.buffer)
	b.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers the change to every subscriber that has room for it.
func (b *Broadcaster) Publish(_ context.Context, change Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
			log.WithField("subscriber", id).WithField("user", change.UserID).Warn("subscriber is full, dropping change")
		}
	}
	return nil
}

// Multi publishes each change to several publishers. A failing publisher doesn't stop the others;
// the first error is returned.
type Multi []Publisher

// Publish delivers the change to every publisher.
func (m Multi) Publish(ctx context.Context, change Change) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, change); err != nil {
			log.WithError(err).WithField("user", change.UserID).Error("unable to publish change")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
