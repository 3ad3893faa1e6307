package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Error - ошибка прикладного уровня с кодом из таксономии.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidInput(msg string) *Error {
	return New(CodeInvalidInput, msg)
}

func NotFound(msg string) *Error {
	return New(CodeNotFound, msg)
}

func PreconditionFailed(msg string) *Error {
	return New(CodePreconditionFailed, msg)
}

func PermissionDenied(msg string) *Error {
	return New(CodePermissionDenied, msg)
}

func Unauthenticated(msg string) *Error {
	return New(CodeUnauthenticated, msg)
}

func Transient(msg string, cause error) *Error {
	return Wrap(CodeTransient, msg, cause)
}

func Internal(msg string, cause error) *Error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf возвращает код ошибки. Таймауты и отмена контекста считаются Transient,
// всё неизвестное - Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTransient
	}
	return CodeInternal
}

// MessageOf возвращает безопасный для клиента текст ошибки.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if CodeOf(err) == CodeTransient {
		return "temporarily unavailable, retry"
	}
	return "internal error"
}
