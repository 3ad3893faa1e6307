package model

import (
	"time"

	"Duet/internal/timeline"
)

// Envelope - одноразовый почтовый слот с шифртекстом (/chats/{chatID}/messages/{id}).
// Удаляется подтверждением получателя или TTL-чисткой.
type Envelope struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	ChatID      string `gorm:"not null;size:160;index:idx_envelopes_chat_sent,priority:1" json:"chatID"`
	SenderID    string `gorm:"not null;size:64" json:"senderID"`
	RecipientID string `gorm:"not null;size:64;index" json:"recipientID"`
	Ciphertext  string `gorm:"type:text;not null" json:"ciphertext"`
	SentAt      int64  `gorm:"not null;index:idx_envelopes_chat_sent,priority:2" json:"sentAt"` // unix ms
	KeyVersion  int    `gorm:"not null;default:1" json:"keyVersion"`
}

func (e Envelope) Key() timeline.Cursor { return timeline.Cursor{At: e.SentAt, ID: e.ID} }

// Receipt - постоянная запись о доставке/прочтении (/events/{chatID}/messageReceipts/{id}).
type Receipt struct {
	ChatID      string     `gorm:"primaryKey;size:160" json:"chatID"`
	MessageID   string     `gorm:"primaryKey;size:64" json:"messageID"`
	SenderID    string     `gorm:"not null;size:64" json:"senderID"`
	RecipientID string     `gorm:"not null;size:64" json:"recipientID"`
	SentAt      int64      `gorm:"not null;default:0" json:"sentAt"`
	DeliveredAt time.Time  `gorm:"not null" json:"deliveredAt"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updatedAt"`
}

func (r Receipt) Key() timeline.Cursor { return timeline.Cursor{At: r.SentAt, ID: r.MessageID} }

// Reaction - слот реакции одного пользователя на сообщение
// (/events/{chatID}/messageReactions/{messageID}/{reactorUID}).
type Reaction struct {
	ChatID     string    `gorm:"primaryKey;size:160" json:"chatID"`
	MessageID  string    `gorm:"primaryKey;size:64" json:"messageID"`
	ReactorUID string    `gorm:"primaryKey;size:64" json:"reactorUID"`
	Ciphertext string    `gorm:"type:text;not null" json:"ciphertext"`
	KeyVersion int       `gorm:"not null;default:1" json:"keyVersion"`
	UpdatedAt  time.Time `gorm:"not null" json:"updatedAt"`
}

// ReactionSlot - значение в карте реакций сообщения, ключ карты - uid реагирующего.
type ReactionSlot struct {
	Ciphertext string    `json:"ciphertext"`
	KeyVersion int       `json:"keyVersion"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ReactionMap строит карту reactor -> слот из строк хранилища.
func ReactionMap(rows []Reaction) map[string]ReactionSlot {
	m := make(map[string]ReactionSlot, len(rows))
	for _, r := range rows {
		m[r.ReactorUID] = ReactionSlot{Ciphertext: r.Ciphertext, KeyVersion: r.KeyVersion, UpdatedAt: r.UpdatedAt}
	}
	return m
}

// Heartbeat - сигнал присутствия (/events/{chatID}/heartbeat/{autoID}).
type Heartbeat struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"`
	ChatID   string `gorm:"not null;size:160;index" json:"chatID"`
	SenderID string `gorm:"not null;size:64" json:"senderID"`
	SentAt   int64  `gorm:"not null" json:"sentAt"`
}

// UnixMilli - единый формат серверного времени для SentAt.
func UnixMilli(t time.Time) int64 { return t.UTC().UnixMilli() }
