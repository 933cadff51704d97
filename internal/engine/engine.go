package engine

import (
	"context"
	"sync"

	"chat-sync/internal/bus"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// Engine is the synchronization façade. It owns every live actor and
// enforces at most one conversation sync per conversation id and one
// list sync per user in this process.
type Engine struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	bus           bus.EventBus

	mu    sync.Mutex
	convs map[string]*ConversationHandle
	lists map[string]*ListHandle
}

// New wires an Engine over the store and bus collaborators.
func New(conversations repositories.ConversationRepository, messages repositories.MessageRepository, eventBus bus.EventBus) *Engine {
	return &Engine{
		conversations: conversations,
		messages:      messages,
		bus:           eventBus,
		convs:         map[string]*ConversationHandle{},
		lists:         map[string]*ListHandle{},
	}
}

// OpenConversation starts a sync actor for the conversation, or returns
// the already-live handle when one exists. The returned handle is shared
// by every caller of the same conversation. The engine lock only guards
// the handle map; the initial load runs outside it, so opening one
// conversation never stalls opens or sends on other scopes.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string, user models.UserProfile) (*ConversationHandle, error) {
	e.mu.Lock()
	if h, ok := e.convs[conversationID]; ok {
		e.mu.Unlock()
		<-h.ready
		if h.startErr != nil {
			return nil, h.startErr
		}
		return h, nil
	}

	actor := NewConversationActor(conversationID, user, e.conversations, e.messages, e.bus)
	h := &ConversationHandle{engine: e, actor: actor, listeners: map[int]func(models.Message){}, ready: make(chan struct{})}
	actor.onMerge = h.dispatch
	e.convs[conversationID] = h
	e.mu.Unlock()

	err := actor.Start(ctx)
	if err != nil {
		e.mu.Lock()
		if e.convs[conversationID] == h {
			delete(e.convs, conversationID)
		}
		e.mu.Unlock()
	}
	h.startErr = err
	close(h.ready)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// OpenConversationList starts the list sync for the user, or returns the
// already-live handle.
func (e *Engine) OpenConversationList(ctx context.Context, user models.UserProfile) (*ListHandle, error) {
	e.mu.Lock()
	if h, ok := e.lists[user.ID]; ok {
		e.mu.Unlock()
		<-h.ready
		if h.startErr != nil {
			return nil, h.startErr
		}
		return h, nil
	}

	actor := NewConversationListActor(user, e.conversations, e.messages, e.bus)
	h := &ListHandle{engine: e, actor: actor, listeners: map[int]func(ListSnapshot){}, ready: make(chan struct{})}
	actor.onRefresh = h.dispatch
	e.lists[user.ID] = h
	e.mu.Unlock()

	err := actor.Start(ctx)
	if err != nil {
		e.mu.Lock()
		if e.lists[user.ID] == h {
			delete(e.lists, user.ID)
		}
		e.mu.Unlock()
	}
	h.startErr = err
	close(h.ready)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Engine) closeConversation(h *ConversationHandle) {
	e.mu.Lock()
	if current, ok := e.convs[h.actor.conversationID]; ok && current == h {
		delete(e.convs, h.actor.conversationID)
	}
	e.mu.Unlock()
	h.actor.Stop()
}

func (e *Engine) closeList(h *ListHandle) {
	e.mu.Lock()
	if current, ok := e.lists[h.actor.user.ID]; ok && current == h {
		delete(e.lists, h.actor.user.ID)
	}
	e.mu.Unlock()
	h.actor.Stop()
}

// releaseConversation closes the shared handle once its last listener
// detaches. Used by the websocket feeds.
func (e *Engine) releaseConversation(h *ConversationHandle) {
	h.mu.Lock()
	empty := len(h.listeners) == 0
	h.mu.Unlock()
	if empty {
		e.closeConversation(h)
	}
}

func (e *Engine) releaseList(h *ListHandle) {
	h.mu.Lock()
	empty := len(h.listeners) == 0
	h.mu.Unlock()
	if empty {
		e.closeList(h)
	}
}

// liveConversation reports whether a live actor exists for the id.
func (e *Engine) liveConversation(conversationID string) (*ConversationHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.convs[conversationID]
	if !ok || !h.actor.Live() {
		return nil, false
	}
	return h, true
}

// ConversationHandle is the façade's view of one live conversation sync.
type ConversationHandle struct {
	engine *Engine
	actor  *ConversationActor

	// ready is closed once the initial load has finished; startErr is
	// written before the close and must only be read after it.
	ready    chan struct{}
	startErr error

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(models.Message)
}

// Conversation returns the loaded conversation record.
func (h *ConversationHandle) Conversation() models.Conversation {
	return h.actor.Conversation()
}

// OtherParty returns the peer's profile summary.
func (h *ConversationHandle) OtherParty() models.UserProfile {
	return h.actor.OtherParty()
}

// Messages returns the current ordered snapshot.
func (h *ConversationHandle) Messages() []models.Message {
	return h.actor.Messages()
}

// AddListener registers a callback for newly merged messages and returns
// a token for RemoveListener. Callbacks run on the actor goroutine.
func (h *ConversationHandle) AddListener(fn func(models.Message)) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return id
}

// RemoveListener detaches a callback; the shared actor is closed once no
// listeners remain.
func (h *ConversationHandle) RemoveListener(id int) {
	h.mu.Lock()
	delete(h.listeners, id)
	h.mu.Unlock()
	h.engine.releaseConversation(h)
}

// Release closes the handle if no listeners are attached. Used when an
// open succeeded but the caller cannot keep the feed.
func (h *ConversationHandle) Release() {
	h.engine.releaseConversation(h)
}

// Close stops the actor and releases the subscription. Idempotent.
func (h *ConversationHandle) Close() {
	h.engine.closeConversation(h)
}

func (h *ConversationHandle) dispatch(msg models.Message) {
	h.mu.Lock()
	fns := make([]func(models.Message), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// ListHandle is the façade's view of one live conversation-list sync.
type ListHandle struct {
	engine *Engine
	actor  *ConversationListActor

	ready    chan struct{}
	startErr error

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(ListSnapshot)
}

// Snapshot returns the last applied list + unread view.
func (h *ListHandle) Snapshot() ListSnapshot {
	return h.actor.Snapshot()
}

// AddListener registers a callback for applied refreshes.
func (h *ListHandle) AddListener(fn func(ListSnapshot)) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return id
}

// RemoveListener detaches a callback; the shared actor is closed once no
// listeners remain.
func (h *ListHandle) RemoveListener(id int) {
	h.mu.Lock()
	delete(h.listeners, id)
	h.mu.Unlock()
	h.engine.releaseList(h)
}

// Release closes the handle if no listeners are attached.
func (h *ListHandle) Release() {
	h.engine.releaseList(h)
}

// Close stops the actor and releases the subscription. Idempotent.
func (h *ListHandle) Close() {
	h.engine.closeList(h)
}

func (h *ListHandle) dispatch(snapshot ListSnapshot) {
	h.mu.Lock()
	fns := make([]func(ListSnapshot), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}
