package models

import "time"

// SwapStatus статус предложения обмена
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapAccepted  SwapStatus = "accepted"
	SwapDeclined  SwapStatus = "declined"
	SwapCompleted SwapStatus = "completed"
	SwapCancelled SwapStatus = "cancelled"
)

// Valid проверяет, что статус входит в допустимый набор
func (s SwapStatus) Valid() bool {
	switch s {
	case SwapPending, SwapAccepted, SwapDeclined, SwapCompleted, SwapCancelled:
		return true
	}
	return false
}

// Terminal сообщает, что из статуса нет переходов через принятие/отклонение/отмену
func (s SwapStatus) Terminal() bool {
	return s != SwapPending
}

// SwapOffer представляет предложение обмена книгами
type SwapOffer struct {
	ID                 int64      `json:"id"`
	ChatID             string     `json:"chat_id"`
	RequesterID        int64      `json:"requester_id"`
	OwnerID            int64      `json:"owner_id"`
	RequestedBookID    int64      `json:"requested_book_id"`
	OfferedBookIDs     []int64    `json:"offered_book_ids"`
	Status             SwapStatus `json:"status"`
	MessageToOwner     string     `json:"message_to_owner,omitempty"`
	MessageToRequester string     `json:"message_to_requester,omitempty"`
	TransactionID      *int64     `json:"transaction_id,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Дополнительные поля для API
	RequestedBook *Book  `json:"requested_book,omitempty"`
	OfferedBooks  []Book `json:"offered_books,omitempty"`
	Requester     *User  `json:"requester,omitempty"`
	Owner         *User  `json:"owner,omitempty"`
}

// CounterParty возвращает второго участника обмена относительно userID
func (o SwapOffer) CounterParty(userID int64) int64 {
	if userID == o.OwnerID {
		return o.RequesterID
	}
	return o.OwnerID
}

// IsParticipant проверяет, участвует ли пользователь в обмене
func (o SwapOffer) IsParticipant(userID int64) bool {
	return userID == o.OwnerID || userID == o.RequesterID
}

// TransactionStatus статус сделки
type TransactionStatus string

const (
	TransactionOpen      TransactionStatus = "open"
	TransactionCompleted TransactionStatus = "completed"
)

// Transaction запись о сделке, созданной принятым обменом
type Transaction struct {
	ID          int64             `json:"id"`
	SwapOfferID int64             `json:"swap_offer_id"`
	BuyerID     int64             `json:"buyer_id"`
	SellerID    int64             `json:"seller_id"`
	BookID      int64             `json:"book_id"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}
