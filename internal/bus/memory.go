package bus

import (
	"context"
	"sync"

	"chat-sync/internal/models"
)

// Memory is an in-process Bus used by tests and as the fallback when no
// AMQP broker is configured. Delivery is synchronous and in publish
// order per topic; like the real broker it never replays events to a
// late subscriber.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]MessageHandler
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: map[string]map[int]MessageHandler{}}
}

// PublishMessage delivers the message row to subscribers of its conversation.
func (m *Memory) PublishMessage(ctx context.Context, msg models.Message) error {
	m.deliver(MessageRoutingKey(msg.ConversationID), msg)
	return nil
}

// PublishConversation signals both participants' conversation topics.
func (m *Memory) PublishConversation(ctx context.Context, conv models.Conversation) error {
	m.deliver(ConversationRoutingKey(conv.OwnerID), models.Message{})
	m.deliver(ConversationRoutingKey(conv.SitterID), models.Message{})
	return nil
}

func (m *Memory) deliver(routingKey string, msg models.Message) {
	m.mu.RLock()
	handlers := make([]MessageHandler, 0, len(m.subs[routingKey]))
	for _, fn := range m.subs[routingKey] {
		handlers = append(handlers, fn)
	}
	m.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// SubscribeMessages registers a handler for one conversation's messages.
func (m *Memory) SubscribeMessages(conversationID string, onEvent MessageHandler, onDrop DropHandler) (Subscription, error) {
	return m.add(MessageRoutingKey(conversationID), onEvent), nil
}

// SubscribeConversations registers a handler for one user's conversation changes.
func (m *Memory) SubscribeConversations(userID string, onEvent ConversationHandler, onDrop DropHandler) (Subscription, error) {
	return m.add(ConversationRoutingKey(userID), func(models.Message) {
		onEvent()
	}), nil
}

func (m *Memory) add(routingKey string, fn MessageHandler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[routingKey]; !ok {
		m.subs[routingKey] = map[int]MessageHandler{}
	}
	id := m.nextID
	m.nextID++
	m.subs[routingKey][id] = fn
	return &memorySubscription{bus: m, routingKey: routingKey, id: id}
}

// SubscriberCount reports live subscriptions for a routing key.
func (m *Memory) SubscriberCount(routingKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[routingKey])
}

type memorySubscription struct {
	bus        *Memory
	routingKey string
	id         int
}

func (s *memorySubscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.routingKey]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.routingKey)
		}
	}
}
