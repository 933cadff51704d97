// Package engine keeps a client's view of conversations and messages
// consistent with the store's event stream. One actor owns one scope
// (a conversation, or a user's conversation list) and processes events
// for that scope strictly one at a time.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"chat-sync/internal/bus"
	"chat-sync/internal/cache"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// State is an actor's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateStopped
)

const resubscribeDelay = time.Second

// ConversationActor synchronizes the message set of one open
// conversation. All mutations of its MessageStore happen on the actor's
// run goroutine; bus adapters only enqueue.
type ConversationActor struct {
	conversationID string
	user           models.UserProfile
	conversations  repositories.ConversationRepository
	messages       repositories.MessageRepository
	bus            bus.EventBus

	store        *cache.MessageStore
	conversation models.Conversation
	otherParty   models.UserProfile

	state    atomic.Int32
	inbox    chan models.Message
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	sub bus.Subscription

	// onMerge is invoked from the run goroutine after each new message
	// is inserted. Set before Start.
	onMerge func(models.Message)
}

// NewConversationActor builds an idle actor.
func NewConversationActor(conversationID string, user models.UserProfile, conversations repositories.ConversationRepository, messages repositories.MessageRepository, eventBus bus.EventBus) *ConversationActor {
	return &ConversationActor{
		conversationID: conversationID,
		user:           user,
		conversations:  conversations,
		messages:       messages,
		bus:            eventBus,
		store:          cache.NewMessageStore(),
		inbox:          make(chan models.Message, 64),
		done:           make(chan struct{}),
	}
}

// Start performs the initial load and goes live. A load failure is
// terminal: the actor transitions to Stopped and the error is returned.
func (a *ConversationActor) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateLoading)) {
		return ErrAlreadyStarted
	}

	if err := a.load(ctx); err != nil {
		a.Stop()
		return err
	}

	sub, err := a.bus.SubscribeMessages(a.conversationID, a.enqueue, a.handleDrop)
	if err != nil {
		a.Stop()
		return fmt.Errorf("subscribe messages: %w", err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	a.state.Store(int32(StateLive))
	observability.IncSubscription("conversation")
	go a.run()
	return nil
}

func (a *ConversationActor) load(ctx context.Context) error {
	conv, err := a.conversations.GetConversation(ctx, a.conversationID)
	if err != nil {
		return fmt.Errorf("fetch conversation: %w", err)
	}

	other, ok := conv.OtherParty(a.user.ID)
	if !ok {
		return ErrNotParticipant
	}
	a.conversation = conv
	a.otherParty = other

	msgs, err := a.messages.GetMessages(ctx, a.conversationID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	a.store.Load(msgs)

	var unreadIDs []string
	for _, m := range a.store.Messages() {
		if m.RecipientID == a.user.ID && !m.Read {
			unreadIDs = append(unreadIDs, m.ID)
		}
	}
	if len(unreadIDs) > 0 {
		// Best effort: a failed mark-read write must not abort the load.
		if err := a.messages.MarkMessagesRead(ctx, unreadIDs); err != nil {
			log.Printf("mark read failed conversation_id=%s count=%d err=%v", a.conversationID, len(unreadIDs), err)
		} else {
			a.store.MarkRead(unreadIDs)
		}
	}
	return nil
}

func (a *ConversationActor) run() {
	for {
		select {
		case <-a.done:
			return
		case msg := <-a.inbox:
			select {
			case <-a.done:
				return
			default:
			}
			a.apply(msg)
		}
	}
}

func (a *ConversationActor) apply(msg models.Message) {
	if a.store.Merge(msg) {
		observability.IncSyncEvent("conversation", "applied")
		if a.onMerge != nil {
			a.onMerge(msg)
		}
	} else {
		observability.IncSyncEvent("conversation", "duplicate")
	}
}

// enqueue feeds a bus event into the actor's inbox. Events arriving
// after Stop are dropped, never applied.
func (a *ConversationActor) enqueue(msg models.Message) {
	if a.Stopped() {
		observability.IncSyncEvent("conversation", "dropped")
		return
	}
	select {
	case a.inbox <- msg:
	case <-a.done:
		observability.IncSyncEvent("conversation", "dropped")
	}
}

// handleDrop reacts to a dead bus feed by resubscribing with the same
// filter. The initial load is not re-run; merge idempotence absorbs any
// duplicate deliveries.
func (a *ConversationActor) handleDrop(err error) {
	if a.Stopped() {
		return
	}
	log.Printf("message feed dropped conversation_id=%s err=%v", a.conversationID, err)
	go a.resubscribe()
}

func (a *ConversationActor) resubscribe() {
	for {
		if a.Stopped() {
			return
		}
		sub, err := a.bus.SubscribeMessages(a.conversationID, a.enqueue, a.handleDrop)
		if err == nil {
			observability.IncResubscribe("conversation")
			a.mu.Lock()
			a.sub = sub
			stopped := a.Stopped()
			a.mu.Unlock()
			if stopped {
				sub.Unsubscribe()
			}
			return
		}
		log.Printf("resubscribe failed conversation_id=%s err=%v", a.conversationID, err)
		select {
		case <-a.done:
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// Stop releases the bus subscription and freezes the actor. Safe to call
// any number of times; in-flight events are dropped from here on.
func (a *ConversationActor) Stop() {
	a.stopOnce.Do(func() {
		wasLive := State(a.state.Swap(int32(StateStopped))) == StateLive
		close(a.done)
		a.mu.Lock()
		if a.sub != nil {
			a.sub.Unsubscribe()
			a.sub = nil
		}
		a.mu.Unlock()
		if wasLive {
			observability.DecSubscription("conversation")
		}
	})
}

// State reports the actor's lifecycle state.
func (a *ConversationActor) State() State {
	return State(a.state.Load())
}

// Live reports whether the actor is consuming events.
func (a *ConversationActor) Live() bool {
	return a.State() == StateLive
}

// Stopped reports whether the actor has been stopped.
func (a *ConversationActor) Stopped() bool {
	return a.State() == StateStopped
}

// Conversation returns the loaded conversation record.
func (a *ConversationActor) Conversation() models.Conversation {
	return a.conversation
}

// OtherParty returns the peer's profile summary.
func (a *ConversationActor) OtherParty() models.UserProfile {
	return a.otherParty
}

// Messages returns the current ordered snapshot.
func (a *ConversationActor) Messages() []models.Message {
	return a.store.Messages()
}
