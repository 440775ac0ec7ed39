package swap

import (
	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// Decide проверяет, может ли callerID выполнить action над предложением, и
// возвращает целевой статус. Функция чистая: ничего не читает и не пишет.
//
//	accept, decline: только владелец, только из pending
//	cancel:          только инициатор, только из pending
//	complete:        любой участник, только из accepted
//
// Проверка стороны выполняется раньше проверки статуса, поэтому чужой
// пользователь всегда получает Forbidden, а повторный переход получает Conflict.
func Decide(offer models.SwapOffer, callerID int64, action Action) (models.SwapStatus, error) {
	var allowed bool
	var from, to models.SwapStatus

	switch action {
	case ActionAccept:
		allowed, from, to = callerID == offer.OwnerID, models.SwapPending, models.SwapAccepted
	case ActionDecline:
		allowed, from, to = callerID == offer.OwnerID, models.SwapPending, models.SwapDeclined
	case ActionCancel:
		allowed, from, to = callerID == offer.RequesterID, models.SwapPending, models.SwapCancelled
	case ActionComplete:
		allowed, from, to = offer.IsParticipant(callerID), models.SwapAccepted, models.SwapCompleted
	default:
		return "", apperr.Wrap(apperr.ErrInvalidRequest, "Недопустимое действие: %q", action)
	}

	if !allowed {
		return "", apperr.Wrap(apperr.ErrForbidden, "%s", forbiddenMessage(action))
	}

	if offer.Status != from {
		return "", apperr.Wrap(apperr.ErrConflict, "Нельзя изменить предложение в статусе %q", offer.Status)
	}

	return to, nil
}

func forbiddenMessage(action Action) string {
	switch action {
	case ActionCancel:
		return "Только инициатор предложения может его отменить"
	case ActionComplete:
		return "Только участники обмена могут его завершить"
	default:
		return "Только владелец книги может принять или отклонить предложение"
	}
}
