package bus

import (
	"context"

	"chat-sync/internal/models"
)

// MessageHandler receives the full message row carried by an event.
type MessageHandler func(models.Message)

// ConversationHandler signals that a conversation row changed for the
// subscribed user. Events carry no payload; subscribers re-fetch.
type ConversationHandler func()

// DropHandler is invoked once when a subscription dies unexpectedly.
// It is never invoked after Unsubscribe.
type DropHandler func(error)

// Subscription is one live event feed. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// EventBus delivers row-change notifications. Delivery is at-least-once
// with no ordering guarantee and no replay of events missed while
// disconnected.
type EventBus interface {
	SubscribeMessages(conversationID string, onEvent MessageHandler, onDrop DropHandler) (Subscription, error)
	SubscribeConversations(userID string, onEvent ConversationHandler, onDrop DropHandler) (Subscription, error)
}

// Publisher is the store-side half of the bus: the durable store raises
// an event after every insert or update it performs.
type Publisher interface {
	PublishMessage(ctx context.Context, msg models.Message) error
	PublishConversation(ctx context.Context, conv models.Conversation) error
}

// Bus is a full event bus: both halves.
type Bus interface {
	EventBus
	Publisher
}

// MessageRoutingKey scopes message events to one conversation.
func MessageRoutingKey(conversationID string) string {
	return "messages." + conversationID
}

// ConversationRoutingKey scopes conversation events to one user.
func ConversationRoutingKey(userID string) string {
	return "conversations." + userID
}
