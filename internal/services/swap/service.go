package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const tracerName = "github.com/rajivgeraev/bookswap-api/internal/services/swap"

// Service управляет жизненным циклом предложений обмена
type Service struct {
	store      Store
	books      BookCatalog
	users      UserDirectory
	dispatcher *Dispatcher
	logger     Logger
	tracer     trace.Tracer
	now        func() time.Time

	markOfferedBooksSold bool
}

// Option defines a functional option for configuring Service.
type Option func(*Service)

// WithLogger sets the logger for the Service.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMarkOfferedBooksSold включает смену статуса предложенных книг при принятии
func WithMarkOfferedBooksSold(enabled bool) Option {
	return func(s *Service) {
		s.markOfferedBooksSold = enabled
	}
}

// NewService создает новый экземпляр Service
func NewService(store Store, books BookCatalog, users UserDirectory, dispatcher *Dispatcher, options ...Option) *Service {
	s := &Service{
		store:      store,
		books:      books,
		users:      users,
		dispatcher: dispatcher,
		logger:     nopLogger{},
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Propose создает предложение обмена в статусе pending и ставит в outbox
// уведомление владельцу запрошенной книги.
func (s *Service) Propose(ctx context.Context, callerID int64, in ProposeInput) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "swap.Propose", trace.WithAttributes(
		attribute.Int64("swap.requester_id", in.RequesterID),
		attribute.Int64("swap.requested_book_id", in.RequestedBookID),
	))
	defer func() { endSpan(span, err) }()

	if callerID == 0 {
		return Result{}, apperr.Wrap(apperr.ErrUnauthorized, "Пользователь не авторизован")
	}

	in.OfferedBookIDs = uniqueIDs(in.OfferedBookIDs)
	if err := validateProposal(in); err != nil {
		return Result{}, err
	}

	if in.RequesterID != callerID {
		return Result{}, apperr.Wrap(apperr.ErrForbidden, "Нельзя создать предложение от имени другого пользователя")
	}

	requested, err := s.checkBooks(ctx, in)
	if err != nil {
		return Result{}, err
	}

	// Проверяем, не существует ли уже такое же предложение
	exists, err := s.store.HasPendingOffer(ctx, in.RequesterID, in.RequestedBookID)
	if err != nil {
		return Result{}, fmt.Errorf("check pending offers: %w", err)
	}
	if exists {
		return Result{}, apperr.Wrap(apperr.ErrConflict, "Такое предложение обмена уже существует")
	}

	now := s.now().UTC()
	offer := models.SwapOffer{
		ChatID:          ChatID(in.RequesterID, in.OwnerID, in.RequestedBookID),
		RequesterID:     in.RequesterID,
		OwnerID:         in.OwnerID,
		RequestedBookID: in.RequestedBookID,
		OfferedBookIDs:  in.OfferedBookIDs,
		Status:          models.SwapPending,
		MessageToOwner:  strings.TrimSpace(in.Note),
		Timestamp:       now,
		UpdatedAt:       now,
	}

	notification, err := s.chatNotificationEvent(ctx, offer, in.RequesterID, models.MessageSwapOffer, requested.Title, in.Note, now)
	if err != nil {
		return Result{}, err
	}
	events := []models.OutboxEvent{notification}

	created, err := s.store.CreateOffer(ctx, offer, events)
	if err != nil {
		return Result{}, fmt.Errorf("create swap offer: %w", err)
	}

	s.logger.Info("swap offer proposed",
		"offer_id", created.ID, "requester_id", created.RequesterID, "owner_id", created.OwnerID, "chat_id", created.ChatID)

	return Result{Offer: created, Warnings: s.deliver(ctx, events)}, nil
}

// validateProposal проверяет обязательные поля до обращения к каталогу
func validateProposal(in ProposeInput) error {
	switch {
	case in.RequesterID == 0:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Не указан инициатор обмена")
	case in.OwnerID == 0:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Не указан владелец книги")
	case in.RequestedBookID == 0:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Не указана запрашиваемая книга")
	case len(in.OfferedBookIDs) == 0:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Необходимо предложить хотя бы одну книгу")
	case in.RequesterID == in.OwnerID:
		return apperr.Wrap(apperr.ErrInvalidRequest, "Вы не можете предложить обмен самому себе")
	}

	for _, id := range in.OfferedBookIDs {
		if id <= 0 {
			return apperr.Wrap(apperr.ErrInvalidRequest, "Неверный ID предлагаемой книги: %d", id)
		}
		if id == in.RequestedBookID {
			return apperr.Wrap(apperr.ErrInvalidRequest, "Нельзя предложить запрашиваемую книгу в обмен на саму себя")
		}
	}

	return nil
}

// checkBooks сверяет владельцев книг с заявленными сторонами обмена
func (s *Service) checkBooks(ctx context.Context, in ProposeInput) (models.Book, error) {
	requested, err := s.findBook(ctx, in.RequestedBookID)
	if err != nil {
		return models.Book{}, err
	}
	if requested.OwnerID != in.OwnerID {
		return models.Book{}, apperr.Wrap(apperr.ErrInvalidRequest, "Книга %d не принадлежит пользователю %d", requested.ID, in.OwnerID)
	}
	if requested.Status == models.BookSold {
		return models.Book{}, apperr.Wrap(apperr.ErrConflict, "Книга «%s» уже недоступна", requested.Title)
	}

	for _, id := range in.OfferedBookIDs {
		book, err := s.findBook(ctx, id)
		if err != nil {
			return models.Book{}, err
		}
		if book.OwnerID != in.RequesterID {
			return models.Book{}, apperr.Wrap(apperr.ErrInvalidRequest, "Вы не можете предложить чужую книгу для обмена")
		}
		if book.Status == models.BookSold {
			return models.Book{}, apperr.Wrap(apperr.ErrConflict, "Книга «%s» уже недоступна", book.Title)
		}
	}

	return requested, nil
}

func (s *Service) findBook(ctx context.Context, id int64) (models.Book, error) {
	book, err := s.books.FindBook(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Book{}, apperr.Wrap(apperr.ErrNotFound, "Книга %d не найдена", id)
		}
		return models.Book{}, fmt.Errorf("find book %d: %w", id, err)
	}
	return book, nil
}

// List возвращает предложения, где пользователь инициатор или владелец
func (s *Service) List(ctx context.Context, callerID int64, filter ListFilter) (offers []models.SwapOffer, err error) {
	ctx, span := s.tracer.Start(ctx, "swap.List")
	defer func() { endSpan(span, err) }()

	if callerID == 0 {
		return nil, apperr.Wrap(apperr.ErrUnauthorized, "Пользователь не авторизован")
	}
	if filter.UserID != callerID {
		return nil, apperr.Wrap(apperr.ErrForbidden, "Можно просматривать только свои предложения")
	}

	switch filter.Role {
	case "":
		filter.Role = RoleAll
	case RoleAll, RoleIncoming, RoleOutgoing:
	default:
		return nil, apperr.Wrap(apperr.ErrInvalidRequest, "Неверный тип предложений: %q", filter.Role)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Wrap(apperr.ErrInvalidRequest, "Неверный статус: %q", filter.Status)
	}

	offers, err = s.store.ListOffers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list swap offers: %w", err)
	}
	return offers, nil
}

// Get возвращает одно предложение участнику обмена
func (s *Service) Get(ctx context.Context, callerID, offerID int64) (models.SwapOffer, error) {
	if callerID == 0 {
		return models.SwapOffer{}, apperr.Wrap(apperr.ErrUnauthorized, "Пользователь не авторизован")
	}

	offer, err := s.loadOffer(ctx, offerID)
	if err != nil {
		return models.SwapOffer{}, err
	}
	if !offer.IsParticipant(callerID) {
		return models.SwapOffer{}, apperr.Wrap(apperr.ErrForbidden, "У вас нет доступа к этому предложению")
	}
	return offer, nil
}

// Transition применяет действие к предложению. Смена статуса и события outbox
// фиксируются атомарно; доставка событий после фиксации не откатывает переход,
// а ее ошибки возвращаются в Result.Warnings.
func (s *Service) Transition(ctx context.Context, offerID, callerID int64, action Action, note string) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "swap.Transition", trace.WithAttributes(
		attribute.Int64("swap.offer_id", offerID),
		attribute.String("swap.action", string(action)),
	))
	defer func() { endSpan(span, err) }()

	if callerID == 0 {
		return Result{}, apperr.Wrap(apperr.ErrUnauthorized, "Пользователь не авторизован")
	}

	offer, err := s.loadOffer(ctx, offerID)
	if err != nil {
		return Result{}, err
	}

	to, err := Decide(offer, callerID, action)
	if err != nil {
		return Result{}, err
	}

	// Книга могла уйти по другому принятому предложению
	if action == ActionAccept {
		requested, err := s.findBook(ctx, offer.RequestedBookID)
		if err != nil {
			return Result{}, err
		}
		if requested.Status != models.BookAvailable {
			return Result{}, ErrBookUnavailable
		}
	}

	now := s.now().UTC()
	change, err := s.buildChange(ctx, offer, callerID, action, to, note, now)
	if err != nil {
		return Result{}, err
	}

	updated, err := s.store.ApplyChange(ctx, change)
	if err != nil {
		if errors.Is(err, ErrBookUnavailable) {
			return Result{}, ErrBookUnavailable
		}
		if errors.Is(err, apperr.ErrConflict) {
			s.logger.Info("swap offer transition lost race", "offer_id", offerID, "action", string(action))
			return Result{}, apperr.Wrap(apperr.ErrConflict, "Предложение уже не находится в ожидании")
		}
		if errors.Is(err, apperr.ErrNotFound) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("apply swap offer change: %w", err)
	}

	s.logger.Info("swap offer transitioned",
		"offer_id", updated.ID, "from", string(change.From), "to", string(updated.Status), "caller_id", callerID)

	return Result{Offer: updated, Warnings: s.deliver(ctx, change.Events)}, nil
}

// Complete переводит принятое предложение в completed
func (s *Service) Complete(ctx context.Context, offerID, callerID int64) (Result, error) {
	return s.Transition(ctx, offerID, callerID, ActionComplete, "")
}

func (s *Service) buildChange(
	ctx context.Context,
	offer models.SwapOffer,
	callerID int64,
	action Action,
	to models.SwapStatus,
	note string,
	now time.Time,
) (Change, error) {

	change := Change{OfferID: offer.ID, From: offer.Status, To: to, At: now}

	if note = strings.TrimSpace(note); note != "" {
		if callerID == offer.OwnerID {
			change.MessageToRequester = &note
		} else {
			change.MessageToOwner = &note
		}
	}

	switch action {
	case ActionAccept:
		change.OpenTransaction = &models.Transaction{
			SwapOfferID: offer.ID,
			BuyerID:     offer.RequesterID,
			SellerID:    offer.OwnerID,
			BookID:      offer.RequestedBookID,
			Status:      models.TransactionOpen,
			CreatedAt:   now,
		}

		bookIDs := []int64{offer.RequestedBookID}
		if s.markOfferedBooksSold {
			bookIDs = append(bookIDs, offer.OfferedBookIDs...)
		}
		for _, bookID := range bookIDs {
			event, err := bookStatusEvent(offer.ID, bookID, models.BookSold, now)
			if err != nil {
				return Change{}, err
			}
			change.Events = append(change.Events, event)
		}

	case ActionComplete:
		change.CompleteTransaction = true
	}

	notification, err := s.chatNotificationEvent(ctx, offer, callerID, messageTypes[action], s.bookTitle(ctx, offer.RequestedBookID), note, now)
	if err != nil {
		return Change{}, err
	}
	change.Events = append(change.Events, notification)

	return change, nil
}

func (s *Service) loadOffer(ctx context.Context, offerID int64) (models.SwapOffer, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.SwapOffer{}, apperr.Wrap(apperr.ErrNotFound, "Предложение обмена не найдено")
		}
		return models.SwapOffer{}, fmt.Errorf("get swap offer %d: %w", offerID, err)
	}
	return offer, nil
}

func (s *Service) deliver(ctx context.Context, events []models.OutboxEvent) []Warning {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Deliver(ctx, events)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
