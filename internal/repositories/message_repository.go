package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync/internal/models"
)

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
	MarkMessagesRead(ctx context.Context, ids []string) error
	CountUnread(ctx context.Context, conversationID string, userID string) (int, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// GetMessages returns all messages of a conversation, oldest first.
func (r *MessageRepo) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, conversation_id, sender_id, recipient_id, content, read, created_at
        FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC, id ASC`,
		conversationID)
	return msgs, err
}

// InsertMessage stores a message, assigning its id. The caller's id field
// is ignored.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var stored models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, conversation_id, sender_id, recipient_id, content, read, created_at`,
		uuid.NewString(), msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Content, msg.Read, createdAt).
		StructScan(&stored)
	return stored, err
}

// MarkMessagesRead flips read to true for the given ids in one statement.
func (r *MessageRepo) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// CountUnread counts messages addressed to the user that are still unread.
func (r *MessageRepo) CountUnread(ctx context.Context, conversationID string, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND recipient_id=$2 AND read = FALSE`,
		conversationID, userID)
	return count, err
}
