package model

import (
	"time"

	"Duet/internal/timeline"
)

// Message - расшифрованное сообщение локальной ленты.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Text     string
	SentAt   int64 // unix ms, серверное время
	// Undecryptable - шифртекст не расшифровался (сменился ключ или повреждение).
	Undecryptable bool
}

func (m Message) Key() timeline.Cursor { return timeline.Cursor{At: m.SentAt, ID: m.ID} }

// Receipt - локальная копия квитанции доставки/прочтения.
type Receipt struct {
	ChatID      string
	MessageID   string
	RecipientID string
	DeliveredAt time.Time
	ReadAt      *time.Time
}

// Reaction - расшифрованная реакция одного пользователя.
type Reaction struct {
	ReactorUID string
	Emoji      string
	UpdatedAt  time.Time
}

// Status - статус собственного сообщения для вывода в CLI.
func (m Message) Status(self string, r *Receipt) string {
	if m.SenderID != self {
		return ""
	}
	switch {
	case r == nil:
		return "sent"
	case r.ReadAt != nil:
		return "read"
	default:
		return "delivered"
	}
}
