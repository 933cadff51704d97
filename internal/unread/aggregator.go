// Package unread maintains per-conversation unread counts for one user.
package unread

import (
	"context"
	"log"
	"sync"

	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// Aggregator answers how many unread messages each conversation holds
// for its user. Counts are recomputed wholesale on refresh; a failed
// query keeps that conversation at its previous known value.
type Aggregator struct {
	userID   string
	messages repositories.MessageRepository

	mu     sync.Mutex
	counts map[string]int
}

// New constructs an Aggregator for one user.
func New(userID string, messages repositories.MessageRepository) *Aggregator {
	return &Aggregator{
		userID:   userID,
		messages: messages,
		counts:   map[string]int{},
	}
}

// Refresh queries the unread count of every conversation in parallel and
// returns the assembled map. A single failing conversation neither blocks
// nor corrupts the others: its entry stays at the prior known value and
// is omitted entirely when no prior value exists.
func (a *Aggregator) Refresh(ctx context.Context, conversationIDs []string) map[string]int {
	type result struct {
		id    string
		count int
		err   error
	}

	results := make([]result, len(conversationIDs))
	var wg sync.WaitGroup
	for i, id := range conversationIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			count, err := a.messages.CountUnread(ctx, id, a.userID)
			results[i] = result{id: id, count: count, err: err}
		}(i, id)
	}
	wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(conversationIDs))
	for _, r := range results {
		if r.err != nil {
			log.Printf("unread count failed conversation_id=%s err=%v", r.id, r.err)
			observability.IncUnreadRefreshError()
			if prev, ok := a.counts[r.id]; ok {
				out[r.id] = prev
			}
			continue
		}
		a.counts[r.id] = r.count
		out[r.id] = r.count
	}
	return out
}

// Counts returns a copy of the last known counts.
func (a *Aggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.counts))
	for id, count := range a.counts {
		out[id] = count
	}
	return out
}
