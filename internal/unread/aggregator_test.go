package unread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
)

func TestRefreshAssemblesCounts(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	agg := New("alice", messages)

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(3, nil).Once()
	messages.On("CountUnread", mock.Anything, "c2", "alice").Return(0, nil).Once()

	counts := agg.Refresh(context.Background(), []string{"c1", "c2"})

	require.Equal(t, map[string]int{"c1": 3, "c2": 0}, counts)
	messages.AssertExpectations(t)
}

func TestRefreshRecomputesWholesale(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	agg := New("alice", messages)

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(3, nil).Once()
	agg.Refresh(context.Background(), []string{"c1"})

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(0, nil).Once()
	counts := agg.Refresh(context.Background(), []string{"c1"})

	require.Equal(t, map[string]int{"c1": 0}, counts)
	messages.AssertExpectations(t)
}

func TestRefreshKeepsPriorValueOnFailure(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	agg := New("alice", messages)

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(1, nil).Once()
	messages.On("CountUnread", mock.Anything, "c2", "alice").Return(5, nil).Once()
	agg.Refresh(context.Background(), []string{"c1", "c2"})

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(2, nil).Once()
	messages.On("CountUnread", mock.Anything, "c2", "alice").Return(0, assert.AnError).Once()

	counts := agg.Refresh(context.Background(), []string{"c1", "c2"})

	require.Equal(t, map[string]int{"c1": 2, "c2": 5}, counts)
	messages.AssertExpectations(t)
}

func TestRefreshOmitsFailedConversationWithNoPriorValue(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	agg := New("alice", messages)

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(4, nil).Once()
	messages.On("CountUnread", mock.Anything, "c2", "alice").Return(0, assert.AnError).Once()

	counts := agg.Refresh(context.Background(), []string{"c1", "c2"})

	require.Equal(t, map[string]int{"c1": 4}, counts)
	assert.NotContains(t, counts, "c2", "a failed first query must not report zero")
}

func TestCountsReturnsACopy(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	agg := New("alice", messages)

	messages.On("CountUnread", mock.Anything, "c1", "alice").Return(7, nil).Once()
	agg.Refresh(context.Background(), []string{"c1"})

	counts := agg.Counts()
	counts["c1"] = 99

	require.Equal(t, 7, agg.Counts()["c1"])
}
