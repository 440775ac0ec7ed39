// Package swap реализует жизненный цикл предложения обмена книгами:
// создание, принятие, отклонение, отмену и завершение, а также доставку
// побочных эффектов (статус книги, уведомление в чат) через outbox.
package swap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// Action действие над предложением обмена
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// ActionFromStatus переводит целевой статус из API в действие
func ActionFromStatus(status models.SwapStatus) (Action, bool) {
	switch status {
	case models.SwapAccepted:
		return ActionAccept, true
	case models.SwapDeclined:
		return ActionDecline, true
	case models.SwapCancelled:
		return ActionCancel, true
	case models.SwapCompleted:
		return ActionComplete, true
	}
	return "", false
}

// Role фильтр списка по роли пользователя
type Role string

const (
	RoleAll      Role = "all"
	RoleIncoming Role = "incoming" // пользователь владелец запрошенной книги
	RoleOutgoing Role = "outgoing" // пользователь инициатор
)

// ProposeInput данные для создания предложения
type ProposeInput struct {
	RequesterID     int64
	OwnerID         int64
	RequestedBookID int64
	OfferedBookIDs  []int64
	Note            string
}

// ListFilter фильтр списка предложений
type ListFilter struct {
	UserID int64
	Role   Role
	Status models.SwapStatus // пустой статус означает любой
}

// Warning предупреждение о неудавшемся побочном эффекте
type Warning struct {
	Kind    string            `json:"kind"`
	Effect  models.OutboxKind `json:"effect"`
	EventID uuid.UUID         `json:"event_id"`
	Error   string            `json:"error"`
}

// Result результат операции: сохраненное предложение и предупреждения
type Result struct {
	Offer    models.SwapOffer `json:"offer"`
	Warnings []Warning        `json:"warnings,omitempty"`
}

// Partial сообщает, что переход зафиксирован, но часть побочных эффектов не доставлена
func (r Result) Partial() bool {
	return len(r.Warnings) > 0
}

// ErrBookUnavailable запрошенная книга уже ушла по другому обмену
var ErrBookUnavailable = apperr.Wrap(apperr.ErrConflict, "Книга уже обменяна по другому предложению")

// Change описывает атомарное изменение предложения
type Change struct {
	OfferID            int64
	From               models.SwapStatus
	To                 models.SwapStatus
	MessageToOwner     *string
	MessageToRequester *string
	// OpenTransaction создается в той же транзакции, а его ID записывается в предложение
	OpenTransaction     *models.Transaction
	CompleteTransaction bool
	Events              []models.OutboxEvent
	At                  time.Time
}

// Store хранилище предложений и outbox
type Store interface {
	CreateOffer(ctx context.Context, offer models.SwapOffer, events []models.OutboxEvent) (models.SwapOffer, error)
	GetOffer(ctx context.Context, id int64) (models.SwapOffer, error)
	HasPendingOffer(ctx context.Context, requesterID, requestedBookID int64) (bool, error)
	ListOffers(ctx context.Context, filter ListFilter) ([]models.SwapOffer, error)
	// ApplyChange выполняет условное обновление WHERE status = From.
	// Если строка не обновлена, возвращает apperr.ErrConflict или apperr.ErrNotFound.
	// При открытии сделки по книге, у которой сделка уже есть, возвращает ErrBookUnavailable.
	ApplyChange(ctx context.Context, change Change) (models.SwapOffer, error)
}

// OutboxStore хранилище отложенных побочных эффектов
type OutboxStore interface {
	// ClaimOutboxEvent переводит событие pending|failed -> processing; false, если его уже забрали
	ClaimOutboxEvent(ctx context.Context, id uuid.UUID, now time.Time) (models.OutboxEvent, bool, error)
	ClaimDueOutboxEvents(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.OutboxEvent, error)
	CompleteOutboxEvent(ctx context.Context, id uuid.UUID) error
	RetryOutboxEvent(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempt int, nextAttemptAt time.Time, lastError string, now time.Time) error
}

// BookCatalog внешний каталог книг
type BookCatalog interface {
	FindBook(ctx context.Context, id int64) (models.Book, error)
	SetBookStatus(ctx context.Context, id int64, status models.BookStatus) error
}

// ChatThread журнал сообщений, ключ которого chatId
type ChatThread interface {
	// EnsureThread создает переписку, если ее еще нет, и возвращает ее
	EnsureThread(ctx context.Context, userA, userB, bookID int64) (models.Thread, error)
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// UserDirectory справочник пользователей
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// Pusher доставляет событие пользователю в реальном времени
type Pusher interface {
	PushMessage(userID int64, msg models.Message)
}

// Logger interface for operational messages, compatible with *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
