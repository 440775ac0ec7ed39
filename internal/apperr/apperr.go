// Package apperr содержит таксономию ошибок API и их отображение в HTTP-коды.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	// ErrPartialFailure никогда не возвращается как ошибка запроса, только как предупреждение
	ErrPartialFailure = errors.New("partial failure")
)

// Wrap добавляет к виду ошибки человекочитаемое сообщение
func Wrap(kind error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Error ошибка с видом из таксономии и сообщением для клиента
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind возвращает вид ошибки или nil, если ошибка не из таксономии
func Kind(err error) error {
	for _, kind := range []error{ErrUnauthorized, ErrInvalidRequest, ErrNotFound, ErrForbidden, ErrConflict, ErrPartialFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var codes = map[error]string{
	ErrUnauthorized:   "unauthorized",
	ErrInvalidRequest: "invalid_request",
	ErrNotFound:       "not_found",
	ErrForbidden:      "forbidden",
	ErrConflict:       "conflict",
	ErrPartialFailure: "partial_failure",
}

// Code возвращает машиночитаемый код вида ошибки, "internal" для прочих
func Code(err error) string {
	if code, ok := codes[Kind(err)]; ok {
		return code
	}
	return "internal"
}

// HTTPStatus отображает вид ошибки в HTTP-код
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrUnauthorized:
		return fiber.StatusUnauthorized
	case ErrInvalidRequest:
		return fiber.StatusBadRequest
	case ErrNotFound:
		return fiber.StatusNotFound
	case ErrForbidden:
		return fiber.StatusForbidden
	case ErrConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// Message возвращает текст для клиента; внутренние ошибки не раскрываются
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.msg
	}
	if Kind(err) != nil {
		return err.Error()
	}
	return "Внутренняя ошибка сервера"
}

// Respond отправляет ошибку в JSON
func Respond(c fiber.Ctx, err error) error {
	return c.Status(HTTPStatus(err)).JSON(fiber.Map{"error": Message(err)})
}
