package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnsynchronized = errors.New("revision is out of date")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("element not found")
	ErrServer         = errors.New("server error")
	ErrNetwork        = errors.New("network error")
	ErrUnexpected     = errors.New("unexpected response")
)

// StatusError — ответ бэкенда с кодом, отличным от 200.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusBadRequest:
		return ErrUnsynchronized
	case e.Code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrUnexpected
	}
}

// retryable: 5xx и сетевые ошибки повторяем, остальное нет.
func retryable(err error) bool {
	return errors.Is(err, ErrServer) || errors.Is(err, ErrNetwork)
}

// Message переводит ошибку клиента в текст для пользователя.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsynchronized):
		return "Данные устарели, обновите список и повторите попытку"
	case errors.Is(err, ErrUnauthorized):
		return "Ошибка авторизации, войдите в аккаунт заново"
	case errors.Is(err, ErrNotFound):
		return "Задача не найдена на сервере"
	case errors.Is(err, ErrServer):
		return "Сервер временно недоступен, попробуйте позже"
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return "Нет соединения с сервером"
	default:
		return "Что-то пошло не так"
	}
}
