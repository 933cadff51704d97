// Package cache holds the in-memory ordered message set for one open
// conversation. The store never talks to the durable store; ordering is
// creation timestamp ascending with ties broken by id.
package cache

import (
	"sort"
	"sync"

	"chat-sync/internal/models"
)

// MessageStore is the deduplicated, ordered message set of one
// conversation. Safe for concurrent use: the owning actor writes,
// websocket feeds read snapshots.
type MessageStore struct {
	mu       sync.RWMutex
	messages []models.Message
	byID     map[string]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{byID: map[string]struct{}{}}
}

// Load replaces the contents with msgs, sorted and deduplicated by id.
// The first occurrence of a duplicate id wins.
func (s *MessageStore) Load(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.byID = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.byID[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Before(s.messages[j])
	})
}

// Merge inserts msg at its sorted position unless an entry with the same
// id already exists. Returns whether an insertion occurred. Merging the
// same message twice is equivalent to merging it once.
func (s *MessageStore) Merge(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[msg.ID]; ok {
		return false
	}
	s.byID[msg.ID] = struct{}{}

	pos := sort.Search(len(s.messages), func(i int) bool {
		return msg.Before(s.messages[i])
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
	return true
}

// MarkRead flips read to true for the given ids. It never reorders and
// never flips read back to false.
func (s *MessageStore) MarkRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if _, ok := set[s.messages[i].ID]; ok {
			s.messages[i].Read = true
		}
	}
}

// Messages returns a copy of the ordered contents.
func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len reports the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
