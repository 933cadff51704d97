package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/bus"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

func newTestEngine(t *testing.T) (*Engine, *mocks.ConversationRepositoryMock, *mocks.MessageRepositoryMock, *bus.Memory) {
	t.Helper()
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	memBus := bus.NewMemory()
	return New(convRepo, msgRepo, memBus), convRepo, msgRepo, memBus
}

func TestOpenConversationSharesOneActorPerID(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	first, err := e.OpenConversation(context.Background(), "c1", alice)
	require.NoError(t, err)
	defer first.Close()

	second, err := e.OpenConversation(context.Background(), "c1", bob)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, memBus.SubscriberCount(bus.MessageRoutingKey("c1")),
		"one conversation holds at most one bus subscription")
	convRepo.AssertExpectations(t)
}

func TestOpenConversationFailureLeavesNoHandle(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("GetConversation", mock.Anything, "c1").
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()
	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	_, err := e.OpenConversation(context.Background(), "c1", alice)
	require.ErrorIs(t, err, repositories.ErrConversationNotFound)
	require.Equal(t, 0, memBus.SubscriberCount(bus.MessageRoutingKey("c1")))

	// A failed open must not poison the id; the next open starts fresh.
	handle, err := e.OpenConversation(context.Background(), "c1", alice)
	require.NoError(t, err)
	handle.Close()
}

func TestCloseConversationIsIdempotent(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	handle, err := e.OpenConversation(context.Background(), "c1", alice)
	require.NoError(t, err)

	handle.Close()
	handle.Close()
	require.Equal(t, 0, memBus.SubscriberCount(bus.MessageRoutingKey("c1")))

	_, live := e.liveConversation("c1")
	require.False(t, live)
}

func TestConversationHandleClosesAfterLastListener(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	handle, err := e.OpenConversation(context.Background(), "c1", alice)
	require.NoError(t, err)

	first := handle.AddListener(func(models.Message) {})
	second := handle.AddListener(func(models.Message) {})

	handle.RemoveListener(first)
	require.Equal(t, 1, memBus.SubscriberCount(bus.MessageRoutingKey("c1")),
		"actor stays live while a listener remains")

	handle.RemoveListener(second)
	require.Equal(t, 0, memBus.SubscriberCount(bus.MessageRoutingKey("c1")))
	require.True(t, handle.actor.Stopped())
}

func TestOpenConversationListSharesOneActorPerUser(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("ListConversations", mock.Anything, "alice").Return(listConversations(), nil).Once()
	msgRepo.On("CountUnread", mock.Anything, mock.Anything, "alice").Return(0, nil)

	first, err := e.OpenConversationList(context.Background(), alice)
	require.NoError(t, err)
	defer first.Close()

	second, err := e.OpenConversationList(context.Background(), alice)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, memBus.SubscriberCount(bus.ConversationRoutingKey("alice")))
	convRepo.AssertExpectations(t)
}

func TestListHandleClosesAfterLastListener(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("ListConversations", mock.Anything, "alice").Return(listConversations(), nil).Once()
	msgRepo.On("CountUnread", mock.Anything, mock.Anything, "alice").Return(0, nil)

	handle, err := e.OpenConversationList(context.Background(), alice)
	require.NoError(t, err)

	id := handle.AddListener(func(ListSnapshot) {})
	handle.RemoveListener(id)

	require.Equal(t, 0, memBus.SubscriberCount(bus.ConversationRoutingKey("alice")))
	require.True(t, handle.actor.Stopped())
}

func TestOpenConversationLoadDoesNotBlockOtherScopes(t *testing.T) {
	e, convRepo, msgRepo, _ := newTestEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := testConversation()
	slow.ID = "slow"
	convRepo.On("GetConversation", mock.Anything, "slow").
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(slow, nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "slow").Return([]models.Message(nil), nil).Once()

	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()
	msgRepo.On("InsertMessage", mock.Anything, mock.Anything).
		Return(testMessage("m1", 1, "alice", "bob", false), nil).Once()
	convRepo.On("UpdateLastMessage", mock.Anything, "c1", "hi").Return(nil).Once()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		if h, err := e.OpenConversation(context.Background(), "slow", alice); err == nil {
			defer h.Close()
		}
	}()
	<-entered

	var handle *ConversationHandle
	opened := make(chan error, 1)
	go func() {
		var err error
		handle, err = e.OpenConversation(context.Background(), "c1", alice)
		opened <- err
	}()
	select {
	case err := <-opened:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("opening an unrelated conversation blocked behind a slow load")
	}
	defer handle.Close()

	sent := make(chan error, 1)
	go func() {
		_, err := e.Send(context.Background(), "c1", "alice", "bob", "hi")
		sent <- err
	}()
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send to a live conversation blocked behind a slow load")
	}

	close(release)
	<-slowDone
}

func TestOpenConversationDuringLoadWaitsForSharedHandle(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	convRepo.On("GetConversation", mock.Anything, "c1").
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	handles := make(chan *ConversationHandle, 2)
	open := func() {
		h, err := e.OpenConversation(context.Background(), "c1", alice)
		assert.NoError(t, err)
		handles <- h
	}
	go open()
	<-entered
	go open()
	close(release)

	first, second := <-handles, <-handles
	defer first.Close()

	require.Same(t, first, second)
	require.Equal(t, 1, memBus.SubscriberCount(bus.MessageRoutingKey("c1")),
		"concurrent opens still converge on one bus subscription")
	convRepo.AssertExpectations(t)
}

func TestReleaseWithoutListenersClosesHandle(t *testing.T) {
	e, convRepo, msgRepo, memBus := newTestEngine(t)

	convRepo.On("GetConversation", mock.Anything, "c1").Return(testConversation(), nil).Once()
	msgRepo.On("GetMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()

	handle, err := e.OpenConversation(context.Background(), "c1", alice)
	require.NoError(t, err)

	handle.Release()
	require.Equal(t, 0, memBus.SubscriberCount(bus.MessageRoutingKey("c1")))
}
