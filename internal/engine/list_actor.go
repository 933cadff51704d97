package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"chat-sync/internal/bus"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/unread"
)

// ListSnapshot is the conversation list plus unread counts at one
// refresh point.
type ListSnapshot struct {
	Conversations []models.Conversation `json:"conversations"`
	Unread        map[string]int        `json:"unread"`
}

// ConversationListActor synchronizes one user's conversation list. Any
// conversation event triggers a full list + unread refresh rather than
// an incremental patch; the list is small and a wholesale refresh is
// simpler to keep consistent.
type ConversationListActor struct {
	user          models.UserProfile
	conversations repositories.ConversationRepository
	bus           bus.EventBus
	unread        *unread.Aggregator

	refreshCtx    context.Context
	cancelRefresh context.CancelFunc

	state    atomic.Int32
	refresh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	sub      bus.Subscription
	snapshot ListSnapshot

	// onRefresh is invoked from the run goroutine after each applied
	// refresh. Set before Start.
	onRefresh func(ListSnapshot)
}

// NewConversationListActor builds an idle list actor.
func NewConversationListActor(user models.UserProfile, conversations repositories.ConversationRepository, messages repositories.MessageRepository, eventBus bus.EventBus) *ConversationListActor {
	return &ConversationListActor{
		user:          user,
		conversations: conversations,
		bus:           eventBus,
		unread:        unread.New(user.ID, messages),
		refresh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start performs the initial list load and goes live. The caller's
// context bounds only the initial load; later bus-triggered refreshes
// run under the actor's own context, which lives until Stop. Callers
// often pass a request context that is canceled long before the actor
// closes.
func (a *ConversationListActor) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateLoading)) {
		return ErrAlreadyStarted
	}
	a.refreshCtx, a.cancelRefresh = context.WithCancel(context.Background())

	if err := a.load(ctx); err != nil {
		a.Stop()
		return err
	}

	sub, err := a.bus.SubscribeConversations(a.user.ID, a.signalRefresh, a.handleDrop)
	if err != nil {
		a.Stop()
		return fmt.Errorf("subscribe conversations: %w", err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	a.state.Store(int32(StateLive))
	observability.IncSubscription("list")
	go a.run()
	return nil
}

// load fetches the list and recomputes unread counts, then applies the
// snapshot. Results arriving after Stop are discarded, not applied.
func (a *ConversationListActor) load(ctx context.Context) error {
	convs, err := a.conversations.ListConversations(ctx, a.user.ID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	counts := a.unread.Refresh(ctx, ids)

	if a.Stopped() {
		return nil
	}
	snapshot := ListSnapshot{Conversations: convs, Unread: counts}

	a.mu.Lock()
	if a.Stopped() {
		a.mu.Unlock()
		return nil
	}
	a.snapshot = snapshot
	a.mu.Unlock()

	if a.onRefresh != nil {
		a.onRefresh(snapshot)
	}
	return nil
}

func (a *ConversationListActor) run() {
	for {
		select {
		case <-a.done:
			return
		case <-a.refresh:
			select {
			case <-a.done:
				return
			default:
			}
			if err := a.load(a.refreshCtx); err != nil {
				// Keep the previous snapshot; the next event retries.
				log.Printf("list refresh failed user_id=%s err=%v", a.user.ID, err)
				observability.IncSyncEvent("list", "failed")
				continue
			}
			observability.IncSyncEvent("list", "applied")
		}
	}
}

// signalRefresh coalesces bursts of conversation events into at most one
// pending refresh.
func (a *ConversationListActor) signalRefresh() {
	if a.Stopped() {
		observability.IncSyncEvent("list", "dropped")
		return
	}
	select {
	case a.refresh <- struct{}{}:
	default:
	}
}

func (a *ConversationListActor) handleDrop(err error) {
	if a.Stopped() {
		return
	}
	log.Printf("conversation feed dropped user_id=%s err=%v", a.user.ID, err)
	go a.resubscribe()
}

func (a *ConversationListActor) resubscribe() {
	for {
		if a.Stopped() {
			return
		}
		sub, err := a.bus.SubscribeConversations(a.user.ID, a.signalRefresh, a.handleDrop)
		if err == nil {
			observability.IncResubscribe("list")
			a.mu.Lock()
			a.sub = sub
			stopped := a.Stopped()
			a.mu.Unlock()
			if stopped {
				sub.Unsubscribe()
			}
			// Events may have been missed while disconnected; one refresh
			// brings the list back in sync.
			a.signalRefresh()
			return
		}
		log.Printf("list resubscribe failed user_id=%s err=%v", a.user.ID, err)
		select {
		case <-a.done:
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// Stop releases the bus subscription and freezes the actor. Idempotent.
func (a *ConversationListActor) Stop() {
	a.stopOnce.Do(func() {
		wasLive := State(a.state.Swap(int32(StateStopped))) == StateLive
		close(a.done)
		if a.cancelRefresh != nil {
			a.cancelRefresh()
		}
		a.mu.Lock()
		if a.sub != nil {
			a.sub.Unsubscribe()
			a.sub = nil
		}
		a.mu.Unlock()
		if wasLive {
			observability.DecSubscription("list")
		}
	})
}

// State reports the actor's lifecycle state.
func (a *ConversationListActor) State() State {
	return State(a.state.Load())
}

// Stopped reports whether the actor has been stopped.
func (a *ConversationListActor) Stopped() bool {
	return a.State() == StateStopped
}

// Snapshot returns the last applied list + unread view.
func (a *ConversationListActor) Snapshot() ListSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}
