package models

import (
	"time"

	"github.com/google/uuid"
)

// OutboxKind тип отложенного побочного эффекта
type OutboxKind string

const (
	OutboxBookStatus       OutboxKind = "book_status"
	OutboxChatNotification OutboxKind = "chat_notification"
)

// OutboxStatus состояние записи outbox
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDead       OutboxStatus = "dead"
)

// OutboxEvent запись, сохраняемая в одной транзакции со сменой статуса обмена
type OutboxEvent struct {
	ID            uuid.UUID    `json:"id"`
	SwapOfferID   int64        `json:"swap_offer_id"`
	Kind          OutboxKind   `json:"kind"`
	Payload       []byte       `json:"payload"`
	Status        OutboxStatus `json:"status"`
	AttemptCount  int          `json:"attempt_count"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
