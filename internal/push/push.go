// Package push передаёт зашифрованные уведомления во внешнюю очередь доставки.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Payload - data-only содержимое уведомления. Сервер не видит открытого текста.
type Payload struct {
	EncryptedBody string `json:"encryptedBody"`
	SenderID      string `json:"senderID"`
	ChatID        string `json:"chatID"`
}

// Notifier доставляет уведомление на push-токен устройства.
type Notifier interface {
	Notify(ctx context.Context, token string, p Payload) error
}

// LogNotifier только пишет уведомление в лог; используется без настроенной очереди.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, token string, p Payload) error {
	if token == "" {
		return nil
	}
	n.Logger.Infow("push notification", "chat_id", p.ChatID, "sender_id", p.SenderID, "bytes", len(p.EncryptedBody))
	return nil
}
