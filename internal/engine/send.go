package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Send persists one outgoing message for a live conversation. The store
// assigns the message id on insert; the stored row comes back to the
// conversation actor through the bus echo, so Send never appends to the
// local message set itself — that would race the echoed event.
func (e *Engine) Send(ctx context.Context, conversationID string, senderID string, recipientID string, text string) (models.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Message{}, ErrEmptyMessage
	}

	if _, ok := e.liveConversation(conversationID); !ok {
		return models.Message{}, ErrNoActiveConversation
	}

	msg, err := e.messages.InsertMessage(ctx, models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        trimmed,
	})
	if err != nil {
		observability.IncSendFailure("insert")
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	// The summary is a display convenience: the message is durable, so a
	// failed summary update is reported but does not fail the send.
	if err := e.conversations.UpdateLastMessage(ctx, conversationID, trimmed); err != nil {
		observability.IncSendFailure("summary")
		log.Printf("last-message update failed conversation_id=%s err=%v", conversationID, err)
	}

	return msg, nil
}
