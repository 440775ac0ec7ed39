package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const (
	defaultOutboxMaxAttempts  = 8
	defaultOutboxPollInterval = 5 * time.Second
	defaultOutboxBatchSize    = 50
	defaultOutboxLease        = 30 * time.Second
	maxOutboxBackoff          = 5 * time.Minute
)

// Dispatcher применяет события outbox: меняет статус книг и пишет системные
// сообщения в чат. Событие удаляется только после успешного применения.
type Dispatcher struct {
	store  OutboxStore
	books  BookCatalog
	chat   ChatThread
	pusher Pusher
	logger Logger
	now    func() time.Time

	maxAttempts  int
	pollInterval time.Duration
	batchSize    int
	lease        time.Duration
}

// DispatcherOption настраивает Dispatcher
type DispatcherOption func(*Dispatcher)

// WithPusher включает живую доставку сообщений через websocket
func WithPusher(pusher Pusher) DispatcherOption {
	return func(d *Dispatcher) {
		d.pusher = pusher
	}
}

// WithDispatcherLogger sets the logger for the Dispatcher.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherClock подменяет источник времени
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithRetryPolicy задает число попыток и интервал опроса
func WithRetryPolicy(maxAttempts int, pollInterval time.Duration, batchSize int) DispatcherOption {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if pollInterval > 0 {
			d.pollInterval = pollInterval
		}
		if batchSize > 0 {
			d.batchSize = batchSize
		}
	}
}

// WithProcessingLease задает, через сколько зависшее в processing событие снова берется в работу
func WithProcessingLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

// NewDispatcher создает новый экземпляр Dispatcher
func NewDispatcher(store OutboxStore, books BookCatalog, chat ChatThread, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		books:        books,
		chat:         chat,
		logger:       nopLogger{},
		now:          time.Now,
		maxAttempts:  defaultOutboxMaxAttempts,
		pollInterval: defaultOutboxPollInterval,
		batchSize:    defaultOutboxBatchSize,
		lease:        defaultOutboxLease,
	}

	for _, option := range options {
		option(d)
	}

	return d
}

// Deliver сразу применяет только что зафиксированные события.
// Возвращает предупреждение на каждое неприменённое событие; такие события
// остаются в outbox и будут повторены в Run.
func (d *Dispatcher) Deliver(ctx context.Context, events []models.OutboxEvent) []Warning {
	var warnings []Warning

	for _, pending := range events {
		event, claimed, err := d.store.ClaimOutboxEvent(ctx, pending.ID, d.now().UTC())
		if err != nil {
			d.logger.Error("outbox claim failed", "event_id", pending.ID.String(), "error", err.Error())
			warnings = append(warnings, newWarning(pending, err))
			continue
		}
		if !claimed {
			// событие уже обрабатывает фоновый цикл
			continue
		}

		if err := d.process(ctx, event); err != nil {
			warnings = append(warnings, newWarning(event, err))
		}
	}

	return warnings
}

// ProcessDue забирает просроченные события и применяет их
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = d.now()
	}
	now = now.UTC()

	events, err := d.store.ClaimDueOutboxEvents(ctx, now, now.Add(-d.lease), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due outbox events: %w", err)
	}

	processed := 0
	for _, event := range events {
		// ошибка применения уже записана в событие, цикл продолжается
		_ = d.process(ctx, event)
		processed++
	}

	return processed, nil
}

// Run опрашивает outbox, пока не отменен контекст
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started", "poll_interval", d.pollInterval.String(), "batch_size", d.batchSize)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			processed, err := d.ProcessDue(ctx, d.now(), d.batchSize)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				d.logger.Error("outbox poll failed", "error", err.Error())
				continue
			}
			if processed > 0 {
				d.logger.Debug("outbox events processed", "count", processed)
			}
		}
	}
}

// process применяет захваченное событие и фиксирует результат в outbox
func (d *Dispatcher) process(ctx context.Context, event models.OutboxEvent) error {
	applyErr := d.apply(ctx, event)
	if applyErr == nil {
		if err := d.store.CompleteOutboxEvent(ctx, event.ID); err != nil {
			d.logger.Error("outbox complete failed", "event_id", event.ID.String(), "error", err.Error())
			return err
		}
		return nil
	}

	now := d.now().UTC()
	attempt := event.AttemptCount + 1
	status := models.OutboxFailed
	if attempt >= d.maxAttempts || errors.Is(applyErr, errPermanent) {
		status = models.OutboxDead
	}

	d.logger.Warn("outbox event failed",
		"event_id", event.ID.String(), "kind", string(event.Kind), "offer_id", event.SwapOfferID,
		"attempt", attempt, "status", string(status), "error", applyErr.Error())

	if err := d.store.RetryOutboxEvent(ctx, event.ID, status, attempt, now.Add(outboxRetryBackoff(attempt)), applyErr.Error(), now); err != nil {
		d.logger.Error("outbox retry failed", "event_id", event.ID.String(), "error", err.Error())
		return errors.Join(applyErr, err)
	}

	return applyErr
}

var errPermanent = errors.New("permanent outbox failure")

func (d *Dispatcher) apply(ctx context.Context, event models.OutboxEvent) error {
	switch event.Kind {
	case models.OutboxBookStatus:
		var payload BookStatusPayload
		if err := jsoniter.ConfigFastest.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode book status: %v", errPermanent, err)
		}

		if err := d.books.SetBookStatus(ctx, payload.BookID, payload.Status); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return fmt.Errorf("%w: book %d not found", errPermanent, payload.BookID)
			}
			return fmt.Errorf("set book %d status: %w", payload.BookID, err)
		}
		return nil

	case models.OutboxChatNotification:
		var payload ChatNotificationPayload
		if err := jsoniter.ConfigFastest.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode chat notification: %v", errPermanent, err)
		}

		if _, err := d.chat.EnsureThread(ctx, payload.SenderID, payload.ReceiverID, payload.BookID); err != nil {
			return fmt.Errorf("ensure chat thread %s: %w", payload.ChatID, err)
		}

		offerID := payload.OfferID
		if offerID == 0 {
			offerID = event.SwapOfferID
		}

		// ID сообщения совпадает с ID события, повторное применение не создает дубликат
		msg, err := d.chat.AppendMessage(ctx, models.Message{
			ID:          event.ID,
			ChatID:      payload.ChatID,
			SenderID:    payload.SenderID,
			ReceiverID:  payload.ReceiverID,
			Text:        payload.Text,
			MessageType: payload.MessageType,
			SwapOfferID: &offerID,
			CreatedAt:   event.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("append chat message: %w", err)
		}

		if d.pusher != nil {
			d.pusher.PushMessage(msg.ReceiverID, msg)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown event kind %q", errPermanent, event.Kind)
}

func newWarning(event models.OutboxEvent, err error) Warning {
	return Warning{
		Kind:    apperr.Code(apperr.ErrPartialFailure),
		Effect:  event.Kind,
		EventID: event.ID,
		Error:   err.Error(),
	}
}

func outboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 20 {
		return maxOutboxBackoff
	}
	backoff := time.Second << (attempt - 1)
	if backoff > maxOutboxBackoff {
		return maxOutboxBackoff
	}
	return backoff
}
