package models

import "time"

// Message is one chat message between a pet owner and a sitter. IDs are
// assigned by the store on insert, never by the client.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	RecipientID    string    `db:"recipient_id" json:"recipient_id"`
	Content        string    `db:"content" json:"content"`
	Read           bool      `db:"read" json:"read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts ahead of other: creation timestamp
// ascending, ties broken by id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
