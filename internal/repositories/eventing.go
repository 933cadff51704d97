package repositories

import (
	"context"
	"log"

	"chat-sync/internal/bus"
	"chat-sync/internal/models"
)

// EventingMessageRepo decorates a MessageRepository so that every insert
// raises a message event on the bus, mirroring how the backing store
// notifies subscribers of row changes. Publish failures are logged, not
// surfaced: the write is durable and a later refresh will converge.
type EventingMessageRepo struct {
	MessageRepository
	publisher bus.Publisher
}

// NewEventingMessageRepo wraps inner with event publication.
func NewEventingMessageRepo(inner MessageRepository, publisher bus.Publisher) *EventingMessageRepo {
	return &EventingMessageRepo{MessageRepository: inner, publisher: publisher}
}

// InsertMessage stores the message and echoes the stored row to the bus.
func (r *EventingMessageRepo) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	stored, err := r.MessageRepository.InsertMessage(ctx, msg)
	if err != nil {
		return models.Message{}, err
	}
	if err := r.publisher.PublishMessage(ctx, stored); err != nil {
		log.Printf("message event publish failed message_id=%s err=%v", stored.ID, err)
	}
	return stored, nil
}

// EventingConversationRepo decorates a ConversationRepository so that a
// last-message update raises a conversation event for both participants.
type EventingConversationRepo struct {
	ConversationRepository
	publisher bus.Publisher
}

// NewEventingConversationRepo wraps inner with event publication.
func NewEventingConversationRepo(inner ConversationRepository, publisher bus.Publisher) *EventingConversationRepo {
	return &EventingConversationRepo{ConversationRepository: inner, publisher: publisher}
}

// UpdateLastMessage updates the summary and notifies both participants.
func (r *EventingConversationRepo) UpdateLastMessage(ctx context.Context, id string, text string) error {
	if err := r.ConversationRepository.UpdateLastMessage(ctx, id, text); err != nil {
		return err
	}
	conv, err := r.ConversationRepository.GetConversation(ctx, id)
	if err != nil {
		log.Printf("conversation event skipped conversation_id=%s err=%v", id, err)
		return nil
	}
	if err := r.publisher.PublishConversation(ctx, conv); err != nil {
		log.Printf("conversation event publish failed conversation_id=%s err=%v", id, err)
	}
	return nil
}
