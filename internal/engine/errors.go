package engine

import "errors"

var (
	// ErrEmptyMessage rejects a send whose text is blank after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrNoActiveConversation rejects a send for a conversation with no
	// live sync actor.
	ErrNoActiveConversation = errors.New("no live sync for conversation")
	// ErrNotParticipant rejects opening a conversation the user is not
	// part of.
	ErrNotParticipant = errors.New("user is not a conversation participant")
	// ErrAlreadyStarted rejects a second Start on the same actor.
	ErrAlreadyStarted = errors.New("sync actor already started")
)
