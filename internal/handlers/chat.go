package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/unread"
)

// ChatHandler exposes the conversation list and the send pipeline over
// HTTP. Live synchronization happens on the websocket feeds; these
// endpoints cover the request/response surface.
type ChatHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	engine        *engine.Engine
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository, eng *engine.Engine) *ChatHandler {
	return &ChatHandler{conversations: conversations, messages: messages, engine: eng}
}

// ListConversations returns the caller's conversations, newest first,
// with the peer profile and unread count attached to each.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := c.GetString("userID")

	convs, err := h.conversations.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	ids := make([]string, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ID)
	}
	counts := unread.New(userID, h.messages).Refresh(c.Request.Context(), ids)

	// Unread is a pointer so a conversation whose count query failed
	// renders as null, never as a false zero.
	type conversationResponse struct {
		models.Conversation
		OtherParty models.UserProfile `json:"other_party"`
		Unread     *int               `json:"unread"`
	}

	responses := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		other, _ := conv.OtherParty(userID)
		resp := conversationResponse{
			Conversation: conv,
			OtherParty:   other,
		}
		if count, ok := counts[conv.ID]; ok {
			resp.Unread = &count
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// PostMessage sends a message into a live conversation. The recipient is
// always the other party of the conversation.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	conv, err := h.conversations.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}

	other, ok := conv.OtherParty(userID)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.Send(c.Request.Context(), conversationID, userID, other.ID, req.Content)
	switch {
	case errors.Is(err, engine.ErrEmptyMessage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "message text is empty"})
		return
	case errors.Is(err, engine.ErrNoActiveConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not open"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}
