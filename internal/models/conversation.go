package models

import "time"

// UserProfile is the display summary of a participant.
type UserProfile struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	AvatarURL string `db:"avatar_url" json:"avatar_url"`
}

// Conversation pairs one pet owner and one pet sitter. LastMessage is a
// denormalized display convenience, never the source of truth.
type Conversation struct {
	ID          string      `db:"id" json:"id"`
	OwnerID     string      `db:"owner_id" json:"owner_id"`
	SitterID    string      `db:"sitter_id" json:"sitter_id"`
	LastMessage string      `db:"last_message" json:"last_message"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	Owner       UserProfile `db:"owner" json:"owner"`
	Sitter      UserProfile `db:"sitter" json:"sitter"`
}

// OtherParty returns the participant that is not userID. ok is false when
// userID is neither party.
func (c Conversation) OtherParty(userID string) (UserProfile, bool) {
	switch userID {
	case c.OwnerID:
		return c.Sitter, true
	case c.SitterID:
		return c.Owner, true
	}
	return UserProfile{}, false
}

// IsParticipant reports whether userID is one of the two parties.
func (c Conversation) IsParticipant(userID string) bool {
	return c.OwnerID == userID || c.SitterID == userID
}
