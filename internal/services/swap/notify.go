package swap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// BookStatusPayload полезная нагрузка события смены статуса книги
type BookStatusPayload struct {
	BookID int64             `json:"book_id"`
	Status models.BookStatus `json:"status"`
}

// ChatNotificationPayload полезная нагрузка системного сообщения в чат
type ChatNotificationPayload struct {
	ChatID      string             `json:"chat_id"`
	BookID      int64              `json:"book_id"`
	SenderID    int64              `json:"sender_id"`
	ReceiverID  int64              `json:"receiver_id"`
	Text        string             `json:"text"`
	MessageType models.MessageType `json:"message_type"`
	OfferID     int64              `json:"offer_id"`
}

var messageTypes = map[Action]models.MessageType{
	ActionAccept:   models.MessageSwapAccepted,
	ActionDecline:  models.MessageSwapDeclined,
	ActionCancel:   models.MessageSwapCancelled,
	ActionComplete: models.MessageSwapCompleted,
}

func newOutboxEvent(kind models.OutboxKind, offerID int64, payload any, now time.Time) (models.OutboxEvent, error) {
	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	return models.OutboxEvent{
		ID:            uuid.New(),
		SwapOfferID:   offerID,
		Kind:          kind,
		Payload:       data,
		Status:        models.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func bookStatusEvent(offerID, bookID int64, status models.BookStatus, now time.Time) (models.OutboxEvent, error) {
	return newOutboxEvent(models.OutboxBookStatus, offerID, BookStatusPayload{BookID: bookID, Status: status}, now)
}

// chatNotificationEvent строит событие с системным сообщением от senderID второму участнику
func (s *Service) chatNotificationEvent(
	ctx context.Context,
	offer models.SwapOffer,
	senderID int64,
	msgType models.MessageType,
	bookTitle string,
	note string,
	now time.Time,
) (models.OutboxEvent, error) {

	payload := ChatNotificationPayload{
		ChatID:      offer.ChatID,
		BookID:      offer.RequestedBookID,
		SenderID:    senderID,
		ReceiverID:  offer.CounterParty(senderID),
		Text:        notificationText(msgType, s.displayName(ctx, senderID), bookTitle, len(offer.OfferedBookIDs), note),
		MessageType: msgType,
		OfferID:     offer.ID,
	}

	return newOutboxEvent(models.OutboxChatNotification, offer.ID, payload, now)
}

func notificationText(msgType models.MessageType, actor, bookTitle string, offeredCount int, note string) string {
	var text string
	switch msgType {
	case models.MessageSwapOffer:
		text = fmt.Sprintf("%s предлагает обмен: %s за «%s»", actor, booksCount(offeredCount), bookTitle)
	case models.MessageSwapAccepted:
		text = fmt.Sprintf("%s принял(а) предложение обмена на «%s»", actor, bookTitle)
	case models.MessageSwapDeclined:
		text = fmt.Sprintf("%s отклонил(а) предложение обмена на «%s»", actor, bookTitle)
	case models.MessageSwapCancelled:
		text = fmt.Sprintf("%s отменил(а) предложение обмена на «%s»", actor, bookTitle)
	case models.MessageSwapCompleted:
		text = fmt.Sprintf("%s отметил(а) обмен на «%s» как завершенный", actor, bookTitle)
	default:
		text = fmt.Sprintf("Статус обмена на «%s» изменился", bookTitle)
	}

	if note = strings.TrimSpace(note); note != "" {
		text += "\n\n" + note
	}
	return text
}

func booksCount(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return fmt.Sprintf("%d книгу", n)
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 12 || n%100 > 14):
		return fmt.Sprintf("%d книги", n)
	default:
		return fmt.Sprintf("%d книг", n)
	}
}

// displayName не должен ломать переход, поэтому ошибка справочника только логируется
func (s *Service) displayName(ctx context.Context, userID int64) string {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("user lookup failed", "user_id", userID, "error", err.Error())
		return models.User{}.DisplayName()
	}
	return user.DisplayName()
}

func (s *Service) bookTitle(ctx context.Context, bookID int64) string {
	book, err := s.books.FindBook(ctx, bookID)
	if err != nil || book.Title == "" {
		return fmt.Sprintf("книга #%d", bookID)
	}
	return book.Title
}
