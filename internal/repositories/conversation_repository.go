package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateLastMessage(ctx context.Context, id string, text string) error
}

const conversationColumns = `
    c.id, c.owner_id, c.sitter_id, c.last_message, c.created_at,
    o.id AS "owner.id", o.first_name AS "owner.first_name",
    o.last_name AS "owner.last_name", o.avatar_url AS "owner.avatar_url",
    s.id AS "sitter.id", s.first_name AS "sitter.first_name",
    s.last_name AS "sitter.last_name", s.avatar_url AS "sitter.avatar_url"`

const conversationJoins = `
    FROM conversations c
    JOIN profiles o ON o.id = c.owner_id
    JOIN profiles s ON s.id = c.sitter_id`

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// GetConversation fetches a conversation with both participant profiles.
func (r *ConversationRepo) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+conversationJoins+` WHERE c.id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns conversations where the user is either party,
// newest first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT `+conversationColumns+conversationJoins+` WHERE c.owner_id=$1 OR c.sitter_id=$1 ORDER BY c.created_at DESC`,
		userID)
	return convs, err
}

// UpdateLastMessage overwrites the denormalized last-message summary.
func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, id string, text string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message=$2 WHERE id=$1`, id, text)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
