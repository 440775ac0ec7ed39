package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // регистрирует диалект
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/services/swap"
)

const (
	dialectPostgres = "postgres"
	tableOffers     = "swap_offers"
	colID           = "id"
	colStatus       = "status"
	colRequesterID  = "requester_id"
	colOwnerID      = "owner_id"
	colCreatedAt    = "created_at"
	colUpdatedAt    = "updated_at"
)

var offerColumns = []any{
	"id", "chat_id", "requester_id", "owner_id", "requested_book_id", "offered_book_ids", "status",
	"message_to_owner", "message_to_requester", "transaction_id", "created_at", "updated_at",
}

const outboxColumns = `id, swap_offer_id, kind, payload, status, attempt_count, next_attempt_at,
	last_error, created_at, updated_at`

// SwapStore хранилище предложений обмена и их outbox
type SwapStore struct {
	pool    *pgxpool.Pool
	builder goqu.DialectWrapper
	users   *UserStore
	books   *BookStore
}

// NewSwapStore создает новый экземпляр SwapStore
func NewSwapStore(pool *pgxpool.Pool) *SwapStore {
	return &SwapStore{
		pool:    pool,
		builder: goqu.Dialect(dialectPostgres),
		users:   NewUserStore(pool),
		books:   NewBookStore(pool),
	}
}

// CreateOffer сохраняет предложение и его события outbox в одной транзакции
func (s *SwapStore) CreateOffer(ctx context.Context, offer models.SwapOffer, events []models.OutboxEvent) (models.SwapOffer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.SwapOffer{}, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO swap_offers (chat_id, requester_id, owner_id, requested_book_id, offered_book_ids,
			status, message_to_owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, chat_id, requester_id, owner_id, requested_book_id, offered_book_ids, status,
			message_to_owner, message_to_requester, transaction_id, created_at, updated_at
	`, offer.ChatID, offer.RequesterID, offer.OwnerID, offer.RequestedBookID, offer.OfferedBookIDs,
		offer.Status, offer.MessageToOwner, offer.Timestamp, offer.UpdatedAt)

	created, err := scanOffer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.SwapOffer{}, apperr.Wrap(apperr.ErrConflict, "Такое предложение обмена уже существует")
		}
		return models.SwapOffer{}, fmt.Errorf("ошибка при создании предложения обмена: %w", err)
	}

	if err := insertOutboxEvents(ctx, tx, created.ID, events); err != nil {
		return models.SwapOffer{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.SwapOffer{}, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return created, nil
}

// GetOffer получает предложение с книгами и участниками
func (s *SwapStore) GetOffer(ctx context.Context, id int64) (models.SwapOffer, error) {
	query, args, err := s.builder.From(tableOffers).
		Prepared(true).
		Select(offerColumns...).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return models.SwapOffer{}, fmt.Errorf("build get offer query: %w", err)
	}

	offer, err := scanOffer(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return models.SwapOffer{}, notFound(err, fmt.Sprintf("get swap offer %d", id))
	}

	offers := []models.SwapOffer{offer}
	if err := s.enrich(ctx, offers); err != nil {
		return models.SwapOffer{}, err
	}
	return offers[0], nil
}

// HasPendingOffer проверяет, есть ли у инициатора ожидающее предложение на ту же книгу
func (s *SwapStore) HasPendingOffer(ctx context.Context, requesterID, requestedBookID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM swap_offers
			WHERE requester_id = $1 AND requested_book_id = $2 AND status = 'pending'
		)
	`, requesterID, requestedBookID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существующих предложений: %w", err)
	}
	return exists, nil
}

// ListOffers возвращает предложения пользователя по фильтру, новые первыми
func (s *SwapStore) ListOffers(ctx context.Context, filter swap.ListFilter) ([]models.SwapOffer, error) {
	var where []goqu.Expression

	switch filter.Role {
	case swap.RoleIncoming:
		where = append(where, goqu.C(colOwnerID).Eq(filter.UserID))
	case swap.RoleOutgoing:
		where = append(where, goqu.C(colRequesterID).Eq(filter.UserID))
	default:
		where = append(where, goqu.Or(
			goqu.C(colRequesterID).Eq(filter.UserID),
			goqu.C(colOwnerID).Eq(filter.UserID),
		))
	}

	if filter.Status != "" {
		where = append(where, goqu.C(colStatus).Eq(string(filter.Status)))
	}

	query, args, err := s.builder.From(tableOffers).
		Prepared(true).
		Select(offerColumns...).
		Where(where...).
		Order(goqu.I(colCreatedAt).Desc(), goqu.I(colID).Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list offers query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении предложений обмена: %w", err)
	}
	defer rows.Close()

	offers := []models.SwapOffer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при сканировании предложения: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при обработке строк: %w", err)
	}

	if err := s.enrich(ctx, offers); err != nil {
		return nil, err
	}
	return offers, nil
}

// ApplyChange выполняет условный переход статуса, создает сделку и события outbox.
// Если предложение уже не в статусе From, ничего не меняется.
func (s *SwapStore) ApplyChange(ctx context.Context, change swap.Change) (models.SwapOffer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.SwapOffer{}, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	// Принятие блокирует строку книги, чтобы два принятия разных предложений не прошли одновременно
	if change.OpenTransaction != nil {
		if err := lockAvailableBook(ctx, tx, change.OpenTransaction.BookID); err != nil {
			return models.SwapOffer{}, err
		}
	}

	record := goqu.Record{
		colStatus:    string(change.To),
		colUpdatedAt: change.At,
	}
	if change.MessageToOwner != nil {
		record["message_to_owner"] = *change.MessageToOwner
	}
	if change.MessageToRequester != nil {
		record["message_to_requester"] = *change.MessageToRequester
	}

	query, args, err := s.builder.Update(tableOffers).
		Prepared(true).
		Set(record).
		Where(goqu.C(colID).Eq(change.OfferID), goqu.C(colStatus).Eq(string(change.From))).
		Returning(offerColumns...).
		ToSQL()
	if err != nil {
		return models.SwapOffer{}, fmt.Errorf("build transition query: %w", err)
	}

	offer, err := scanOffer(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SwapOffer{}, s.transitionMiss(ctx, tx, change.OfferID)
		}
		return models.SwapOffer{}, fmt.Errorf("ошибка при обновлении статуса предложения: %w", err)
	}

	if change.OpenTransaction != nil {
		t := change.OpenTransaction
		var transactionID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (swap_offer_id, buyer_id, seller_id, book_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING id
		`, offer.ID, t.BuyerID, t.SellerID, t.BookID, t.Status, t.CreatedAt).Scan(&transactionID)
		if err != nil {
			if isUniqueViolation(err) {
				return models.SwapOffer{}, fmt.Errorf("book %d: %w", t.BookID, swap.ErrBookUnavailable)
			}
			return models.SwapOffer{}, fmt.Errorf("ошибка при создании сделки: %w", err)
		}

		if _, err = tx.Exec(ctx, `UPDATE swap_offers SET transaction_id = $1 WHERE id = $2`, transactionID, offer.ID); err != nil {
			return models.SwapOffer{}, fmt.Errorf("ошибка при привязке сделки: %w", err)
		}
		offer.TransactionID = &transactionID
	}

	if change.CompleteTransaction {
		_, err = tx.Exec(ctx, `
			UPDATE transactions SET status = 'completed', updated_at = $1 WHERE swap_offer_id = $2
		`, change.At, offer.ID)
		if err != nil {
			return models.SwapOffer{}, fmt.Errorf("ошибка при завершении сделки: %w", err)
		}
	}

	if err := insertOutboxEvents(ctx, tx, offer.ID, change.Events); err != nil {
		return models.SwapOffer{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.SwapOffer{}, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	offers := []models.SwapOffer{offer}
	if err := s.enrich(ctx, offers); err != nil {
		return models.SwapOffer{}, err
	}
	return offers[0], nil
}

// lockAvailableBook блокирует книгу до конца транзакции и проверяет, что по ней еще нет сделки.
// Статус книги меняется через outbox, поэтому сделка проверяется отдельно.
func lockAvailableBook(ctx context.Context, tx pgx.Tx, bookID int64) error {
	var status models.BookStatus
	var taken bool
	err := tx.QueryRow(ctx, `
		SELECT b.status, EXISTS (SELECT 1 FROM transactions t WHERE t.book_id = b.id)
		FROM books b
		WHERE b.id = $1
		FOR UPDATE OF b
	`, bookID).Scan(&status, &taken)
	if err != nil {
		return notFound(err, fmt.Sprintf("lock book %d", bookID))
	}
	if status != models.BookAvailable || taken {
		return fmt.Errorf("book %d is %s: %w", bookID, status, swap.ErrBookUnavailable)
	}
	return nil
}

// transitionMiss различает отсутствующее предложение и проигранную гонку
func (s *SwapStore) transitionMiss(ctx context.Context, tx pgx.Tx, offerID int64) error {
	var status models.SwapStatus
	err := tx.QueryRow(ctx, `SELECT status FROM swap_offers WHERE id = $1`, offerID).Scan(&status)
	if err != nil {
		return notFound(err, fmt.Sprintf("transition swap offer %d", offerID))
	}
	return fmt.Errorf("swap offer %d is %s: %w", offerID, status, apperr.ErrConflict)
}

// enrich подгружает книги и участников одним запросом на таблицу
func (s *SwapStore) enrich(ctx context.Context, offers []models.SwapOffer) error {
	if len(offers) == 0 {
		return nil
	}

	bookIDs := make([]int64, 0, len(offers)*2)
	for _, offer := range offers {
		bookIDs = append(bookIDs, offer.RequestedBookID)
		bookIDs = append(bookIDs, offer.OfferedBookIDs...)
	}

	books, err := s.books.FindBooks(ctx, bookIDs)
	if err != nil {
		return err
	}
	booksByID := make(map[int64]models.Book, len(books))
	for _, book := range books {
		booksByID[book.ID] = book
	}

	usersByID := make(map[int64]models.User)
	for i := range offers {
		offer := &offers[i]

		if book, ok := booksByID[offer.RequestedBookID]; ok {
			offer.RequestedBook = &book
		}
		offer.OfferedBooks = make([]models.Book, 0, len(offer.OfferedBookIDs))
		for _, id := range offer.OfferedBookIDs {
			if book, ok := booksByID[id]; ok {
				offer.OfferedBooks = append(offer.OfferedBooks, book)
			}
		}

		for _, id := range []int64{offer.RequesterID, offer.OwnerID} {
			if _, ok := usersByID[id]; ok {
				continue
			}
			user, err := s.users.GetUser(ctx, id)
			if err != nil {
				return err
			}
			usersByID[id] = user
		}
		requester, owner := usersByID[offer.RequesterID], usersByID[offer.OwnerID]
		offer.Requester, offer.Owner = &requester, &owner
	}

	return nil
}

func scanOffer(row pgx.Row) (models.SwapOffer, error) {
	var offer models.SwapOffer
	err := row.Scan(
		&offer.ID, &offer.ChatID, &offer.RequesterID, &offer.OwnerID, &offer.RequestedBookID,
		&offer.OfferedBookIDs, &offer.Status, &offer.MessageToOwner, &offer.MessageToRequester,
		&offer.TransactionID, &offer.Timestamp, &offer.UpdatedAt,
	)
	return offer, err
}

func insertOutboxEvents(ctx context.Context, tx pgx.Tx, offerID int64, events []models.OutboxEvent) error {
	for _, event := range events {
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox_events (id, swap_offer_id, kind, payload, status, attempt_count, next_attempt_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $6)
		`, event.ID, offerID, event.Kind, event.Payload, event.NextAttemptAt, event.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка при добавлении события %s в outbox: %w", event.Kind, err)
		}
	}
	return nil
}

// ClaimOutboxEvent забирает одно событие в обработку
func (s *SwapStore) ClaimOutboxEvent(ctx context.Context, id uuid.UUID, now time.Time) (models.OutboxEvent, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE outbox_events
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING `+outboxColumns, id, now)

	event, err := scanOutboxEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OutboxEvent{}, false, nil
		}
		return models.OutboxEvent{}, false, fmt.Errorf("claim outbox event %s: %w", id, err)
	}
	return event, true, nil
}

// ClaimDueOutboxEvents забирает просроченные события и зависшие в processing
func (s *SwapStore) ClaimDueOutboxEvents(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM outbox_events
			WHERE (status IN ('pending', 'failed') AND next_attempt_at <= $1)
			   OR (status = 'processing' AND updated_at <= $2)
			ORDER BY next_attempt_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_events o
		SET status = 'processing', updated_at = $1
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.swap_offer_id, o.kind, o.payload, o.status, o.attempt_count,
			o.next_attempt_at, o.last_error, o.created_at, o.updated_at
	`, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// CompleteOutboxEvent удаляет примененное событие
func (s *SwapStore) CompleteOutboxEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return fmt.Errorf("complete outbox event %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("complete outbox event %s: expected 1 row deleted, got %d", id, tag.RowsAffected())
	}
	return nil
}

// RetryOutboxEvent записывает неудачную попытку и время следующей
func (s *SwapStore) RetryOutboxEvent(
	ctx context.Context,
	id uuid.UUID,
	status models.OutboxStatus,
	attempt int,
	nextAttemptAt time.Time,
	lastError string,
	now time.Time,
) error {

	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = $2, attempt_count = $3, next_attempt_at = $4, last_error = $5, updated_at = $6
		WHERE id = $1 AND status = 'processing'
	`, id, status, attempt, nextAttemptAt, lastError, now)
	if err != nil {
		return fmt.Errorf("mark outbox retry %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("mark outbox retry %s: expected 1 row updated, got %d", id, tag.RowsAffected())
	}
	return nil
}

func scanOutboxEvent(row pgx.Row) (models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := row.Scan(
		&event.ID, &event.SwapOfferID, &event.Kind, &event.Payload, &event.Status, &event.AttemptCount,
		&event.NextAttemptAt, &event.LastError, &event.CreatedAt, &event.UpdatedAt,
	)
	return event, err
}
