// ABOUTME: In-memory fan-out broadcaster for lifecycle progress events
// ABOUTME: Publishes to every subscriber of a session key and remembers the latest event per action

package progress

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agent-console/internal/lifecycle"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for lifecycle events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan lifecycle.Event // key -> subID -> ch
	latest      map[string]map[lifecycle.Action]lifecycle.Event
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan lifecycle.Event),
		latest:      make(map[string]map[lifecycle.Action]lifecycle.Event),
		logger:      logger.With("component", "progress"),
	}
}

// Subscribe registers a subscriber for events on key. The subscription is
// cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan lifecycle.Event, string) {
	subID := uuid.New().String()
	ch := make(chan lifecycle.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan lifecycle.Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish sends ev to all subscribers of key without blocking. Events are
// dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(key string, ev lifecycle.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.latest[key]; !ok {
		b.latest[key] = make(map[lifecycle.Action]lifecycle.Event)
	}
	b.latest[key][ev.Action] = ev

	subs := b.subscribers[key]
	targets := make([]chan lifecycle.Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}

	// sends happen under the lock so Unsubscribe cannot close a target mid-send
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"key", key,
				"action", ev.Action,
				"phase", ev.Phase)
		}
	}
	b.mu.Unlock()
}

// Sink returns a lifecycle.Sink publishing to key.
func (b *Broadcaster) Sink(key string) lifecycle.Sink {
	return lifecycle.SinkFunc(func(ev lifecycle.Event) { b.Publish(key, ev) })
}

// Latest returns the most recent event of each action published to key,
// oldest first.
func (b *Broadcaster) Latest(key string) []lifecycle.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]lifecycle.Event, 0, len(b.latest[key]))
	for _, ev := range b.latest[key] {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b lifecycle.Event) int { return a.At.Compare(b.At) })
	return out
}

// Forget drops the retained events of key, typically when its session expires.
func (b *Broadcaster) Forget(key string) {
	b.mu.Lock()
	delete(b.latest, key)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions on key.
func (b *Broadcaster) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
