package swap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

var testNow = time.Date(2024, 9, 2, 12, 0, 0, 0, time.UTC)

// memStore хранит предложения, сделки и outbox в памяти
type memStore struct {
	mu           sync.Mutex
	offers       map[int64]models.SwapOffer
	transactions map[int64]models.Transaction
	outbox       map[uuid.UUID]models.OutboxEvent
	nextOfferID  int64
	nextTxID     int64
}

func newMemStore() *memStore {
	return &memStore{
		offers:       map[int64]models.SwapOffer{},
		transactions: map[int64]models.Transaction{},
		outbox:       map[uuid.UUID]models.OutboxEvent{},
		nextOfferID:  100,
	}
}

func (s *memStore) CreateOffer(_ context.Context, offer models.SwapOffer, events []models.OutboxEvent) (models.SwapOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.offers {
		if existing.Status == models.SwapPending && existing.RequesterID == offer.RequesterID && existing.RequestedBookID == offer.RequestedBookID {
			return models.SwapOffer{}, apperr.ErrConflict
		}
	}

	s.nextOfferID++
	offer.ID = s.nextOfferID
	offer.OfferedBookIDs = append([]int64(nil), offer.OfferedBookIDs...)
	s.offers[offer.ID] = offer
	s.storeEvents(offer.ID, events)
	return offer, nil
}

func (s *memStore) GetOffer(_ context.Context, id int64) (models.SwapOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return models.SwapOffer{}, apperr.ErrNotFound
	}
	return offer, nil
}

func (s *memStore) HasPendingOffer(_ context.Context, requesterID, requestedBookID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, offer := range s.offers {
		if offer.Status == models.SwapPending && offer.RequesterID == requesterID && offer.RequestedBookID == requestedBookID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListOffers(_ context.Context, filter ListFilter) ([]models.SwapOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var offers []models.SwapOffer
	for _, offer := range s.offers {
		switch filter.Role {
		case RoleIncoming:
			if offer.OwnerID != filter.UserID {
				continue
			}
		case RoleOutgoing:
			if offer.RequesterID != filter.UserID {
				continue
			}
		default:
			if !offer.IsParticipant(filter.UserID) {
				continue
			}
		}
		if filter.Status != "" && offer.Status != filter.Status {
			continue
		}
		offers = append(offers, offer)
	}

	sort.Slice(offers, func(i, j int) bool { return offers[i].ID > offers[j].ID })
	return offers, nil
}

func (s *memStore) ApplyChange(_ context.Context, change Change) (models.SwapOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[change.OfferID]
	if !ok {
		return models.SwapOffer{}, apperr.ErrNotFound
	}
	if offer.Status != change.From {
		return models.SwapOffer{}, apperr.ErrConflict
	}
	if change.OpenTransaction != nil {
		for _, t := range s.transactions {
			if t.BookID == change.OpenTransaction.BookID {
				return models.SwapOffer{}, ErrBookUnavailable
			}
		}
	}

	offer.Status = change.To
	offer.UpdatedAt = change.At
	if change.MessageToOwner != nil {
		offer.MessageToOwner = *change.MessageToOwner
	}
	if change.MessageToRequester != nil {
		offer.MessageToRequester = *change.MessageToRequester
	}
	if change.OpenTransaction != nil {
		s.nextTxID++
		t := *change.OpenTransaction
		t.ID = s.nextTxID
		s.transactions[t.ID] = t
		offer.TransactionID = &t.ID
	}
	if change.CompleteTransaction && offer.TransactionID != nil {
		t := s.transactions[*offer.TransactionID]
		t.Status = models.TransactionCompleted
		s.transactions[t.ID] = t
	}

	s.offers[offer.ID] = offer
	s.storeEvents(offer.ID, change.Events)
	return offer, nil
}

func (s *memStore) storeEvents(offerID int64, events []models.OutboxEvent) {
	for _, event := range events {
		event.SwapOfferID = offerID
		s.outbox[event.ID] = event
	}
}

func (s *memStore) ClaimOutboxEvent(_ context.Context, id uuid.UUID, now time.Time) (models.OutboxEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.outbox[id]
	if !ok || (event.Status != models.OutboxPending && event.Status != models.OutboxFailed) {
		return models.OutboxEvent{}, false, nil
	}
	event.Status = models.OutboxProcessing
	event.UpdatedAt = now
	s.outbox[id] = event
	return event, true, nil
}

func (s *memStore) ClaimDueOutboxEvents(_ context.Context, now, staleBefore time.Time, limit int) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []models.OutboxEvent
	for id, event := range s.outbox {
		if len(claimed) == limit {
			break
		}
		due := (event.Status == models.OutboxPending || event.Status == models.OutboxFailed) && !event.NextAttemptAt.After(now)
		stale := event.Status == models.OutboxProcessing && !event.UpdatedAt.After(staleBefore)
		if !due && !stale {
			continue
		}
		event.Status = models.OutboxProcessing
		event.UpdatedAt = now
		s.outbox[id] = event
		claimed = append(claimed, event)
	}
	return claimed, nil
}

func (s *memStore) CompleteOutboxEvent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbox[id]; !ok {
		return errors.New("outbox event not found")
	}
	delete(s.outbox, id)
	return nil
}

func (s *memStore) RetryOutboxEvent(_ context.Context, id uuid.UUID, status models.OutboxStatus, attempt int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.outbox[id]
	if !ok {
		return errors.New("outbox event not found")
	}
	event.Status = status
	event.AttemptCount = attempt
	event.NextAttemptAt = nextAttemptAt
	event.LastError = lastError
	event.UpdatedAt = now
	s.outbox[id] = event
	return nil
}

func (s *memStore) outboxEvents() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]models.OutboxEvent, 0, len(s.outbox))
	for _, event := range s.outbox {
		events = append(events, event)
	}
	return events
}

// memBooks каталог книг в памяти
type memBooks struct {
	mu        sync.Mutex
	books     map[int64]models.Book
	statusErr error
}

func newMemBooks(books ...models.Book) *memBooks {
	c := &memBooks{books: map[int64]models.Book{}}
	for _, book := range books {
		if book.Status == "" {
			book.Status = models.BookAvailable
		}
		c.books[book.ID] = book
	}
	return c
}

func (c *memBooks) FindBook(_ context.Context, id int64) (models.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	book, ok := c.books[id]
	if !ok {
		return models.Book{}, apperr.ErrNotFound
	}
	return book, nil
}

func (c *memBooks) SetBookStatus(_ context.Context, id int64, status models.BookStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.statusErr != nil {
		return c.statusErr
	}
	book, ok := c.books[id]
	if !ok {
		return apperr.ErrNotFound
	}
	book.Status = status
	c.books[id] = book
	return nil
}

func (c *memBooks) status(id int64) models.BookStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.books[id].Status
}

// memChat журнал сообщений в памяти
type memChat struct {
	mu        sync.Mutex
	threads   map[string]models.Thread
	messages  map[uuid.UUID]models.Message
	appendErr error
}

func newMemChat() *memChat {
	return &memChat{threads: map[string]models.Thread{}, messages: map[uuid.UUID]models.Message{}}
}

func (c *memChat) EnsureThread(_ context.Context, userA, userB, bookID int64) (models.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chatID := ChatID(userA, userB, bookID)
	if thread, ok := c.threads[chatID]; ok {
		return thread, nil
	}
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	thread := models.Thread{ChatID: chatID, UserLowID: low, UserHighID: high, BookID: bookID}
	c.threads[chatID] = thread
	return thread, nil
}

func (c *memChat) AppendMessage(_ context.Context, msg models.Message) (models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.appendErr != nil {
		return models.Message{}, c.appendErr
	}
	if _, ok := c.threads[msg.ChatID]; !ok {
		return models.Message{}, apperr.ErrNotFound
	}
	if existing, ok := c.messages[msg.ID]; ok {
		return existing, nil
	}
	c.messages[msg.ID] = msg
	return msg, nil
}

func (c *memChat) setAppendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendErr = err
}

func (c *memChat) messagesIn(chatID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Message
	for _, msg := range c.messages {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

// memUsers справочник пользователей в памяти
type memUsers map[int64]models.User

func (u memUsers) GetUser(_ context.Context, id int64) (models.User, error) {
	user, ok := u[id]
	if !ok {
		return models.User{}, apperr.ErrNotFound
	}
	return user, nil
}

// recordingPusher запоминает отправленные сообщения
type recordingPusher struct {
	mu     sync.Mutex
	pushed map[int64][]models.Message
}

func (p *recordingPusher) PushMessage(userID int64, msg models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushed == nil {
		p.pushed = map[int64][]models.Message{}
	}
	p.pushed[userID] = append(p.pushed[userID], msg)
}

// fixture стандартный набор: пользователь 1 просит книгу 10 у пользователя 2, предлагая книги 20 и 21
type fixture struct {
	store   *memStore
	books   *memBooks
	chat    *memChat
	pusher  *recordingPusher
	service *Service
}

func newFixture(options ...Option) *fixture {
	f := &fixture{
		store: newMemStore(),
		books: newMemBooks(
			models.Book{ID: 10, OwnerID: 2, Title: "Линейная алгебра"},
			models.Book{ID: 11, OwnerID: 2, Title: "Матанализ"},
			models.Book{ID: 20, OwnerID: 1, Title: "Физика"},
			models.Book{ID: 21, OwnerID: 1, Title: "Химия"},
			models.Book{ID: 30, OwnerID: 3, Title: "Органическая химия"},
		),
		chat:   newMemChat(),
		pusher: &recordingPusher{},
	}
	users := memUsers{
		1: {ID: 1, Username: "anna"},
		2: {ID: 2, FirstName: "Борис"},
		3: {ID: 3, Username: "stranger"},
	}

	clock := func() time.Time { return testNow }
	dispatcher := NewDispatcher(f.store, f.books, f.chat, WithPusher(f.pusher), WithDispatcherClock(clock))
	f.service = NewService(f.store, f.books, users, dispatcher, append([]Option{WithClock(clock)}, options...)...)
	return f
}

func (f *fixture) propose(requesterID, ownerID, requestedBookID int64, offered ...int64) (Result, error) {
	return f.service.Propose(context.Background(), requesterID, ProposeInput{
		RequesterID:     requesterID,
		OwnerID:         ownerID,
		RequestedBookID: requestedBookID,
		OfferedBookIDs:  offered,
	})
}
