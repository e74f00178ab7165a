package codegen

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMessagesRequired = errors.New("messages are required")
	ErrInvalidMessages  = errors.New("invalid messages")
	ErrTrialExpired     = errors.New("free trial has expired")
)

// errorResponses сопоставляет ожидаемые ошибки с ответом клиенту.
// Всё, чего нет в таблице, превращается в 500 "Internal error".
var errorResponses = []struct {
	err    error
	status int
	body   string
}{
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrMessagesRequired, http.StatusBadRequest, "Messages are required"},
	{ErrInvalidMessages, http.StatusBadRequest, "Invalid messages"},
	{ErrTrialExpired, http.StatusForbidden, "Free trial has expired"},
}

const internalErrorBody = "Internal error"

// statusFor возвращает статус и тело ответа для err; ok=false для непредвиденных ошибок.
func statusFor(err error) (status int, body string, ok bool) {
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			return e.status, e.body, true
		}
	}
	return http.StatusInternalServerError, internalErrorBody, false
}
