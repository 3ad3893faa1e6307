package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"Duet/internal/apperr"
)

// Коды ошибок сервера (те же, что в apperr).
const (
	CodeUnauthenticated    = apperr.CodeUnauthenticated
	CodeInvalidInput       = apperr.CodeInvalidInput
	CodeNotFound           = apperr.CodeNotFound
	CodePreconditionFailed = apperr.CodePreconditionFailed
	CodePermissionDenied   = apperr.CodePermissionDenied
	CodeTransient          = apperr.CodeTransient
	CodeInternal           = apperr.CodeInternal
)

// Error - ошибка, возвращённая сервером в формате {"error":{"code","message"}}.
// Status == 0 означает, что до сервера не достучались.
type Error struct {
	Status  int
	Code    apperr.Code
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Retryable - ошибку можно повторить, не теряя пользовательский ввод.
func (e *Error) Retryable() bool { return e.Code == CodeTransient }

// IsCode проверяет код серверной ошибки.
func IsCode(err error, code apperr.Code) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

type errorEnvelope struct {
	Error struct {
		Code    apperr.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

// decodeError разбирает тело ошибки; если это не JSON, код выводится из статуса.
func decodeError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		return &Error{Status: status, Code: env.Error.Code, Message: env.Error.Message}
	}
	return &Error{Status: status, Code: codeForStatus(status), Message: strings.TrimSpace(string(body))}
}

func codeForStatus(status int) apperr.Code {
	switch status {
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusBadRequest:
		return CodeInvalidInput
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusPreconditionFailed, http.StatusConflict:
		return CodePreconditionFailed
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusGatewayTimeout:
		return CodeTransient
	}
	return CodeInternal
}
