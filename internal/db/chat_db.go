package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/services/swap"
)

const previewLength = 120

// ChatStore хранилище переписок и сообщений
type ChatStore struct {
	pool *pgxpool.Pool
}

// NewChatStore создает новый экземпляр ChatStore
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// EnsureThread создает переписку двух пользователей по книге, если ее нет
func (s *ChatStore) EnsureThread(ctx context.Context, userA, userB, bookID int64) (models.Thread, error) {
	if userA == userB {
		return models.Thread{}, apperr.Wrap(apperr.ErrInvalidRequest, "Нельзя начать переписку с самим собой")
	}

	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	chatID := swap.ChatID(low, high, bookID)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_threads (chat_id, user_low_id, user_high_id, book_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO NOTHING
	`, chatID, low, high, bookID)
	if err != nil {
		return models.Thread{}, fmt.Errorf("ошибка при создании переписки: %w", err)
	}

	return s.GetThread(ctx, chatID)
}

// GetThread получает переписку по ключу
func (s *ChatStore) GetThread(ctx context.Context, chatID string) (models.Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chat_id, user_low_id, user_high_id, book_id, created_at, last_message_text, last_message_time
		FROM chat_threads WHERE chat_id = $1
	`, chatID)

	thread, err := scanThread(row)
	if err != nil {
		return models.Thread{}, notFound(err, "get chat thread "+chatID)
	}
	return thread, nil
}

// AppendMessage добавляет сообщение и обновляет превью переписки в одной транзакции.
// Повторная вставка сообщения с тем же ID ничего не меняет.
func (s *ChatStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.MessageType == "" {
		msg.MessageType = models.MessageText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Message{}, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var low, high int64
	err = tx.QueryRow(ctx, `
		SELECT user_low_id, user_high_id FROM chat_threads WHERE chat_id = $1 FOR UPDATE
	`, msg.ChatID).Scan(&low, &high)
	if err != nil {
		return models.Message{}, notFound(err, "lock chat thread "+msg.ChatID)
	}

	thread := models.Thread{UserLowID: low, UserHighID: high}
	if !thread.HasParticipant(msg.SenderID) || thread.PeerOf(msg.SenderID) != msg.ReceiverID {
		return models.Message{}, apperr.Wrap(apperr.ErrForbidden, "Отправитель и получатель не участвуют в этой переписке")
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, text, message_type, swap_offer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Text, msg.MessageType, msg.SwapOfferID, msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("ошибка при сохранении сообщения: %w", err)
	}

	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE chat_threads
			SET last_message_text = $1, last_message_time = $2
			WHERE chat_id = $3
		`, preview(msg.Text), msg.CreatedAt, msg.ChatID)
		if err != nil {
			return models.Message{}, fmt.Errorf("ошибка при обновлении переписки: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Message{}, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return msg, nil
}

// ListThreads возвращает переписки пользователя, свежие первыми
func (s *ChatStore) ListThreads(ctx context.Context, userID int64) ([]models.Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.chat_id, t.user_low_id, t.user_high_id, t.book_id, t.created_at,
			t.last_message_text, t.last_message_time,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.chat_id = t.chat_id AND m.receiver_id = $1 AND NOT m.is_read) AS unread
		FROM chat_threads t
		WHERE t.user_low_id = $1 OR t.user_high_id = $1
		ORDER BY COALESCE(t.last_message_time, t.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении переписок: %w", err)
	}
	defer rows.Close()

	threads := []models.Thread{}
	for rows.Next() {
		var thread models.Thread
		var lastTime pgtype.Timestamptz
		if err := rows.Scan(&thread.ChatID, &thread.UserLowID, &thread.UserHighID, &thread.BookID,
			&thread.CreatedAt, &thread.LastMessageText, &lastTime, &thread.UnreadCount); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании переписки: %w", err)
		}
		if lastTime.Valid {
			thread.LastMessageTime = &lastTime.Time
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при обработке строк: %w", err)
	}

	return threads, nil
}

// ListMessages возвращает страницу сообщений, новые первыми
func (s *ChatStore) ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]models.Message, error) {
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, receiver_id, text, message_type, swap_offer_id, is_read, created_at
		FROM messages
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении сообщений: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.ReceiverID, &msg.Text,
			&msg.MessageType, &msg.SwapOfferID, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка при сканировании сообщения: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при обработке строк: %w", err)
	}

	return messages, nil
}

// MarkRead отмечает прочитанными сообщения, адресованные readerID
func (s *ChatStore) MarkRead(ctx context.Context, chatID string, readerID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND receiver_id = $2 AND NOT is_read
	`, chatID, readerID)
	if err != nil {
		return 0, fmt.Errorf("ошибка при отметке сообщений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanThread(row pgx.Row) (models.Thread, error) {
	var thread models.Thread
	var lastTime pgtype.Timestamptz
	err := row.Scan(&thread.ChatID, &thread.UserLowID, &thread.UserHighID, &thread.BookID,
		&thread.CreatedAt, &thread.LastMessageText, &lastTime)
	if err != nil {
		return models.Thread{}, err
	}
	if lastTime.Valid {
		thread.LastMessageTime = &lastTime.Time
	}
	return thread, nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "…"
}
