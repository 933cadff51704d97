package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// AMQPBus is a RabbitMQ-backed Bus over a topic exchange. Message events
// are routed as messages.<conversation_id>, conversation events as
// conversations.<user_id> for each participant.
type AMQPBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQP connects and declares the topic exchange.
func NewAMQP(url, exchange string) (*AMQPBus, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	log.Printf("rabbitmq connected exchange=%s", exchange)
	return &AMQPBus{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishMessage publishes the full message row to its conversation topic.
func (b *AMQPBus) PublishMessage(ctx context.Context, msg models.Message) error {
	return b.publish(ctx, MessageRoutingKey(msg.ConversationID), msg)
}

// PublishConversation notifies both participants of a conversation change.
func (b *AMQPBus) PublishConversation(ctx context.Context, conv models.Conversation) error {
	if err := b.publish(ctx, ConversationRoutingKey(conv.OwnerID), conv); err != nil {
		return err
	}
	return b.publish(ctx, ConversationRoutingKey(conv.SitterID), conv)
}

func (b *AMQPBus) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = b.ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		log.Printf("rabbitmq publish failed routing_key=%s err=%v", routingKey, err)
		observability.IncBusPublishError()
	}
	return err
}

// SubscribeMessages consumes the message topic of one conversation.
func (b *AMQPBus) SubscribeMessages(conversationID string, onEvent MessageHandler, onDrop DropHandler) (Subscription, error) {
	return b.subscribe(MessageRoutingKey(conversationID), func(body []byte) {
		var msg models.Message
		if err := json.Unmarshal(body, &msg); err != nil || msg.ID == "" {
			observability.IncBusDroppedPayload()
			return
		}
		onEvent(msg)
	}, onDrop)
}

// SubscribeConversations consumes the conversation topic of one user.
func (b *AMQPBus) SubscribeConversations(userID string, onEvent ConversationHandler, onDrop DropHandler) (Subscription, error) {
	return b.subscribe(ConversationRoutingKey(userID), func([]byte) {
		onEvent()
	}, onDrop)
}

func (b *AMQPBus) subscribe(routingKey string, deliver func([]byte), onDrop DropHandler) (Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, routingKey, b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	sub := &amqpSubscription{ch: ch}
	go func() {
		for d := range deliveries {
			deliver(d.Body)
		}
		if !sub.closed.Load() && onDrop != nil {
			onDrop(fmt.Errorf("amqp feed closed routing_key=%s", routingKey))
		}
	}()
	return sub, nil
}

// Close tears down the publishing channel and the connection.
func (b *AMQPBus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type amqpSubscription struct {
	ch     *amqp.Channel
	closed atomic.Bool
}

func (s *amqpSubscription) Unsubscribe() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.ch.Close()
	}
}
