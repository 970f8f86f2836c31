// Package feed implements the in-process change feed of the message store.
// Writers publish insert/update events after a successful persist; consumers
// subscribe per conversation. Delivery is at-least-once from the consumer's
// point of view: publishing never blocks the write path, and a subscriber
// whose buffer is full misses events and must rely on a backfill sweep.
package feed

import (
	"log/slog"
	"sync"

	"attune/backend/internal/model"
)

// subscriberBuffer bounds how far a slow consumer may lag before it starts
// missing events.
const subscriberBuffer = 64

type subscriber struct {
	ch   chan model.ChangeEvent
	once sync.Once
}

// Broker fans change events out to per-conversation subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*subscriber
	next uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]*subscriber)}
}

// Publish delivers an event to every subscriber of its conversation.
// It never blocks: a subscriber that cannot keep up is skipped.
func (b *Broker) Publish(event model.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[event.Row.ConversationID] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("Dropping change event for slow subscriber",
				"conversation_id", event.Row.ConversationID,
				"message_id", event.Row.ID,
				"kind", event.Kind)
		}
	}
}

// Subscribe registers a consumer for one conversation's events. The returned
// cancel function is idempotent and closes the event channel.
func (b *Broker) Subscribe(conversationID string) (<-chan model.ChangeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	sub := &subscriber{ch: make(chan model.ChangeEvent, subscriberBuffer)}
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[uint64]*subscriber)
	}
	b.subs[conversationID][id] = sub

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[conversationID], id)
			if len(b.subs[conversationID]) == 0 {
				delete(b.subs, conversationID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports how many consumers are attached to a conversation.
func (b *Broker) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
