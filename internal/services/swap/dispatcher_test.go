package swap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

func seedEvent(t *testing.T, store *memStore, event models.OutboxEvent) models.OutboxEvent {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	store.storeEvents(event.SwapOfferID, []models.OutboxEvent{event})
	return store.outbox[event.ID]
}

func Test_outboxRetryBackoff_Bounds(t *testing.T) {
	assert.Equal(t, time.Second, outboxRetryBackoff(0))
	assert.Equal(t, time.Second, outboxRetryBackoff(1))
	assert.Equal(t, 2*time.Second, outboxRetryBackoff(2))
	assert.Equal(t, 64*time.Second, outboxRetryBackoff(7))
	assert.Equal(t, 5*time.Minute, outboxRetryBackoff(20))
	assert.Equal(t, 5*time.Minute, outboxRetryBackoff(80))
}

func Test_Dispatcher_MarksEventDeadAfterMaxAttempts(t *testing.T) {
	// arrange
	store := newMemStore()
	books := newMemBooks(models.Book{ID: 10, OwnerID: 2})
	books.statusErr = errors.New("db timeout")
	dispatcher := NewDispatcher(store, books, newMemChat(),
		WithDispatcherClock(func() time.Time { return testNow }),
		WithRetryPolicy(2, time.Second, 10))

	event, err := bookStatusEvent(7, 10, models.BookSold, testNow)
	require.NoError(t, err)
	seedEvent(t, store, event)

	// act
	first := dispatcher.Deliver(context.Background(), []models.OutboxEvent{event})
	processed, err := dispatcher.ProcessDue(context.Background(), testNow.Add(time.Minute), 10)

	// assert
	require.Len(t, first, 1)
	assert.Equal(t, models.OutboxBookStatus, first[0].Effect)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	events := store.outboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxDead, events[0].Status)
	assert.Equal(t, 2, events[0].AttemptCount)
	assert.Contains(t, events[0].LastError, "db timeout")

	// мертвые события больше не забираются
	processed, err = dispatcher.ProcessDue(context.Background(), testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func Test_Dispatcher_MissingBookIsPermanentFailure(t *testing.T) {
	store := newMemStore()
	dispatcher := NewDispatcher(store, newMemBooks(), newMemChat(),
		WithDispatcherClock(func() time.Time { return testNow }))

	event, err := bookStatusEvent(7, 404, models.BookSold, testNow)
	require.NoError(t, err)
	seedEvent(t, store, event)

	warnings := dispatcher.Deliver(context.Background(), []models.OutboxEvent{event})

	require.Len(t, warnings, 1)
	events := store.outboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxDead, events[0].Status)
	assert.Equal(t, 1, events[0].AttemptCount)
}

func Test_Dispatcher_UnknownKindIsDead(t *testing.T) {
	store := newMemStore()
	dispatcher := NewDispatcher(store, newMemBooks(), newMemChat())

	event := seedEvent(t, store, models.OutboxEvent{
		ID: uuid.New(), SwapOfferID: 7, Kind: "fax", Payload: []byte(`{}`), Status: models.OutboxPending,
	})

	warnings := dispatcher.Deliver(context.Background(), []models.OutboxEvent{event})

	require.Len(t, warnings, 1)
	assert.Equal(t, models.OutboxDead, store.outboxEvents()[0].Status)
}

func Test_Dispatcher_SkipsEventsClaimedElsewhere(t *testing.T) {
	// arrange
	store := newMemStore()
	chat := newMemChat()
	dispatcher := NewDispatcher(store, newMemBooks(), chat)

	event := seedEvent(t, store, models.OutboxEvent{
		ID: uuid.New(), SwapOfferID: 7, Kind: models.OutboxChatNotification, Payload: []byte(`{}`), Status: models.OutboxPending,
	})
	_, claimed, err := store.ClaimOutboxEvent(context.Background(), event.ID, testNow)
	require.NoError(t, err)
	require.True(t, claimed)

	// act
	warnings := dispatcher.Deliver(context.Background(), []models.OutboxEvent{event})

	// assert
	assert.Empty(t, warnings)
	assert.Equal(t, models.OutboxProcessing, store.outboxEvents()[0].Status)
	assert.Empty(t, chat.messages)
}

func Test_Dispatcher_ReclaimsStaleProcessingEvents(t *testing.T) {
	// arrange
	store := newMemStore()
	chat := newMemChat()
	pusher := &recordingPusher{}
	dispatcher := NewDispatcher(store, newMemBooks(), chat,
		WithPusher(pusher), WithProcessingLease(30*time.Second))

	offer := models.SwapOffer{ID: 7, ChatID: "1_2_10", RequesterID: 1, OwnerID: 2, RequestedBookID: 10, OfferedBookIDs: []int64{20}}
	service := NewService(store, newMemBooks(), memUsers{}, nil)
	event, err := service.chatNotificationEvent(context.Background(), offer, 2, models.MessageSwapDeclined, "Физика", "", testNow)
	require.NoError(t, err)
	seedEvent(t, store, event)

	// процесс упал после захвата события
	_, claimed, err := store.ClaimOutboxEvent(context.Background(), event.ID, testNow)
	require.NoError(t, err)
	require.True(t, claimed)

	// act
	early, err := dispatcher.ProcessDue(context.Background(), testNow.Add(10*time.Second), 10)
	require.NoError(t, err)
	late, err := dispatcher.ProcessDue(context.Background(), testNow.Add(time.Minute), 10)
	require.NoError(t, err)

	// assert
	assert.Zero(t, early)
	assert.Equal(t, 1, late)
	assert.Empty(t, store.outboxEvents())

	messages := chat.messagesIn("1_2_10")
	require.Len(t, messages, 1)
	assert.Equal(t, event.ID, messages[0].ID)
	assert.Equal(t, models.MessageSwapDeclined, messages[0].MessageType)
	assert.Equal(t, "пользователь отклонил(а) предложение обмена на «Физика»", messages[0].Text)
	assert.Equal(t, int64(1), messages[0].ReceiverID)
	require.Len(t, pusher.pushed[1], 1)
}

func Test_Dispatcher_Run_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	dispatcher := NewDispatcher(store, newMemBooks(), newMemChat(), WithRetryPolicy(0, 10*time.Millisecond, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
