package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType тип сообщения в чате
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageSwapOffer     MessageType = "swap_offer"
	MessageSwapAccepted  MessageType = "swap_accepted"
	MessageSwapDeclined  MessageType = "swap_declined"
	MessageSwapCancelled MessageType = "swap_cancelled"
	MessageSwapCompleted MessageType = "swap_completed"
)

// Thread представляет переписку двух пользователей по конкретной книге
type Thread struct {
	ChatID          string     `json:"chat_id"`
	UserLowID       int64      `json:"user_low_id"`
	UserHighID      int64      `json:"user_high_id"`
	BookID          int64      `json:"book_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastMessageText string     `json:"last_message_text,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`

	// Дополнительные поля для API
	Peer        *User `json:"peer,omitempty"`
	UnreadCount int   `json:"unread_count"`
}

// HasParticipant проверяет, участвует ли пользователь в переписке
func (t Thread) HasParticipant(userID int64) bool {
	return userID == t.UserLowID || userID == t.UserHighID
}

// PeerOf возвращает собеседника пользователя
func (t Thread) PeerOf(userID int64) int64 {
	if userID == t.UserLowID {
		return t.UserHighID
	}
	return t.UserLowID
}

// Message представляет сообщение в чате
type Message struct {
	ID          uuid.UUID   `json:"id"`
	ChatID      string      `json:"chat_id"`
	SenderID    int64       `json:"sender_id"`
	ReceiverID  int64       `json:"receiver_id"`
	Text        string      `json:"text"`
	MessageType MessageType `json:"message_type"`
	SwapOfferID *int64      `json:"swap_offer_id,omitempty"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
}
