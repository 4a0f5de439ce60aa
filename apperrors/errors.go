package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind - категория ошибки, по ней определяется HTTP статус
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindNotFound        Kind = "NOT_FOUND"
	KindForbidden       Kind = "FORBIDDEN"
	KindInvalidInput    Kind = "INVALID_INPUT"
	KindConflict        Kind = "CONFLICT"
	KindUnavailable     Kind = "UNAVAILABLE"
)

// AppError - бизнес-ошибка с кодом (Code уникален для каждой именованной ошибки)
type AppError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is сравнивает ошибки по коду, чтобы errors.Is работал с копиями и обертками
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// WithMessage возвращает копию ошибки с уточненным текстом (код сохраняется)
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{Kind: e.Kind, Code: e.Code, Message: message, Cause: e.Cause}
}

// Unavailable оборачивает сбой хранилища/транспорта
func Unavailable(op string, cause error) *AppError {
	return &AppError{Kind: KindUnavailable, Code: "UNAVAILABLE", Message: op, Cause: cause}
}

func InvalidInput(message string) *AppError {
	return New(KindInvalidInput, "INVALID_INPUT", message)
}

func NotFound(message string) *AppError {
	return New(KindNotFound, "NOT_FOUND", message)
}

func Forbidden(message string) *AppError {
	return New(KindForbidden, "FORBIDDEN", message)
}

// KindOf возвращает категорию ошибки; все, что не AppError, считается сбоем
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnavailable
}

// HTTPStatus - статус ответа для ошибки
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// PublicMessage - текст для клиента; детали сбоев хранилища наружу не отдаются
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != KindUnavailable {
		return appErr.Message
	}
	return "service temporarily unavailable"
}

// PublicCode - машиночитаемый код ошибки для клиента
func PublicCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNAVAILABLE"
}
