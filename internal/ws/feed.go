package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/engine"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// FeedHandler streams engine state over websockets: one feed per open
// conversation screen, one feed per conversation-list screen. Opening a
// feed opens the scope through the façade; closing the socket detaches
// the listener, and the shared actor stops once its last feed is gone.
type FeedHandler struct {
	engine *engine.Engine
}

// NewFeedHandler constructs a FeedHandler.
func NewFeedHandler(eng *engine.Engine) *FeedHandler {
	return &FeedHandler{engine: eng}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type conversationSnapshot struct {
	Type         string              `json:"type"`
	Conversation models.Conversation `json:"conversation"`
	OtherParty   models.UserProfile  `json:"other_party"`
	Messages     []models.Message    `json:"messages"`
}

type messageEvent struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type listEvent struct {
	Type     string              `json:"type"`
	Snapshot engine.ListSnapshot `json:"snapshot"`
}

// HandleConversation opens one conversation through the façade and
// streams the initial snapshot followed by every newly merged message.
func (h *FeedHandler) HandleConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	user := models.UserProfile{ID: c.GetString("userID")}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.conversation.open",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	handle, err := h.engine.OpenConversation(ctx, conversationID, user)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, repositories.ErrConversationNotFound):
			status = http.StatusNotFound
		case errors.Is(err, engine.ErrNotParticipant):
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "failed to open conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		handle.Release()
		return
	}

	connID := uuid.NewString()
	writer := &connWriter{conn: conn}
	observability.IncWSActive("conversation")
	observability.IncWSEvent("conversation", "connect")

	listenerID := handle.AddListener(func(msg models.Message) {
		if err := writer.writeJSON(messageEvent{Type: "message", Message: msg}); err != nil {
			log.Printf("ws write failed conn_id=%s conversation_id=%s err=%v", connID, conversationID, err)
			observability.IncWSEvent("conversation", "write_error")
			conn.Close()
		}
	})

	if err := writer.writeJSON(conversationSnapshot{
		Type:         "snapshot",
		Conversation: handle.Conversation(),
		OtherParty:   handle.OtherParty(),
		Messages:     handle.Messages(),
	}); err != nil {
		handle.RemoveListener(listenerID)
		observability.DecWSActive("conversation")
		conn.Close()
		return
	}

	go func() {
		defer func() {
			handle.RemoveListener(listenerID)
			observability.DecWSActive("conversation")
			observability.IncWSEvent("conversation", "disconnect")
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("conversation", "read_error")
				}
				return
			}
		}
	}()
}

// HandleConversationList opens the caller's conversation-list sync and
// streams the current snapshot plus every applied refresh.
func (h *FeedHandler) HandleConversationList(c *gin.Context) {
	user := models.UserProfile{ID: c.GetString("userID")}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.list.open",
		trace.WithAttributes(attribute.String("user.id", user.ID)))
	defer span.End()

	handle, err := h.engine.OpenConversationList(ctx, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open conversation list"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		handle.Release()
		return
	}

	connID := uuid.NewString()
	writer := &connWriter{conn: conn}
	observability.IncWSActive("list")
	observability.IncWSEvent("list", "connect")

	listenerID := handle.AddListener(func(snapshot engine.ListSnapshot) {
		if err := writer.writeJSON(listEvent{Type: "refresh", Snapshot: snapshot}); err != nil {
			log.Printf("ws write failed conn_id=%s user_id=%s err=%v", connID, user.ID, err)
			observability.IncWSEvent("list", "write_error")
			conn.Close()
		}
	})

	if err := writer.writeJSON(listEvent{Type: "refresh", Snapshot: handle.Snapshot()}); err != nil {
		handle.RemoveListener(listenerID)
		observability.DecWSActive("list")
		conn.Close()
		return
	}

	go func() {
		defer func() {
			handle.RemoveListener(listenerID)
			observability.DecWSActive("list")
			observability.IncWSEvent("list", "disconnect")
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("list", "read_error")
				}
				return
			}
		}
	}()
}

// connWriter serializes concurrent writes to one websocket connection.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}
