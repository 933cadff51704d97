package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, ConversationID: "c1", Content: "m-" + id, CreatedAt: time.Unix(ts, 0)}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestLoadSortsByTimestampThenID(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("B", 3), msg("A", 1), msg("C", 2)})

	require.Equal(t, []string{"A", "C", "B"}, ids(store.Messages()))
}

func TestLoadBreaksTimestampTiesByID(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("B", 1), msg("A", 1)})

	require.Equal(t, []string{"A", "B"}, ids(store.Messages()))
}

func TestLoadDropsDuplicateIDs(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("A", 1), msg("A", 2), msg("B", 3)})

	require.Equal(t, []string{"A", "B"}, ids(store.Messages()))
}

func TestLoadReplacesPreviousContents(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("A", 1)})
	store.Load([]models.Message{msg("B", 2)})

	require.Equal(t, []string{"B"}, ids(store.Messages()))
	assert.True(t, store.Merge(msg("A", 1)), "id from the replaced set must be insertable again")
}

func TestMergeIsIdempotent(t *testing.T) {
	store := NewMessageStore()

	require.True(t, store.Merge(msg("A", 1)))
	require.False(t, store.Merge(msg("A", 1)))
	require.Equal(t, []string{"A"}, ids(store.Messages()))
}

func TestMergeInsertsAtSortedPosition(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("A", 1), msg("C", 3)})

	require.True(t, store.Merge(msg("B", 2)))
	require.Equal(t, []string{"A", "B", "C"}, ids(store.Messages()))
}

func TestMarkReadFlipsOnlyListedIDs(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("A", 1), msg("B", 2)})

	store.MarkRead([]string{"B", "missing"})

	msgs := store.Messages()
	assert.False(t, msgs[0].Read)
	assert.True(t, msgs[1].Read)
}

func TestMessagesReturnsACopy(t *testing.T) {
	store := NewMessageStore()
	store.Load([]models.Message{msg("A", 1)})

	snapshot := store.Messages()
	snapshot[0].Content = "mutated"

	require.Equal(t, "m-A", store.Messages()[0].Content)
}
