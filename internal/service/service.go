// Package service содержит бизнес-логику сервера: профили, связывание пар,
// сессионную блокировку и почтовый протокол сообщений.
package service

import (
	"context"
	"errors"
	"time"

	"Duet/internal/apperr"
	"Duet/internal/events"

	"gorm.io/gorm"
)

// EventBus - то, что сервисам нужно от хаба событий.
type EventBus interface {
	Publish(ctx context.Context, ev events.Event)
	Subscribe(chatID string, handler events.Handler) *events.Subscription
}

// utcNow - серверное время с точностью до миллисекунды.
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// storeErr оборачивает неожиданную ошибку хранилища; таймауты и отмена считаются временными.
func storeErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Transient(msg, err)
	}
	return apperr.Internal(msg, err)
}
