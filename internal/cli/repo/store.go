package repo

import (
	"Duet/internal/cli/model"
	"Duet/internal/timeline"
)

// KVStore - ключ/значение для ключевого материала и курсоров.
type KVStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// TimelineStore - локальная лента беседы и индексы квитанций и реакций.
type TimelineStore interface {
	KVStore

	// UpsertMessages сливает сообщения по id.
	UpsertMessages(msgs []model.Message) error
	// MessagesBefore - страница назад от курсора (нулевой курсор - самые новые), по убыванию.
	MessagesBefore(chatID string, cursor timeline.Cursor, limit int) ([]model.Message, error)
	GetMessage(chatID, id string) (*model.Message, error)

	UpsertReceipt(r model.Receipt) error
	DeleteReceipt(chatID, messageID string) error
	Receipts(chatID string, messageIDs []string) (map[string]model.Receipt, error)

	// ReplaceReactions заменяет весь набор реакций сообщения.
	ReplaceReactions(chatID, messageID string, reactions []model.Reaction) error
	Reactions(chatID string, messageIDs []string) (map[string][]model.Reaction, error)

	// DeleteChat стирает всё локальное состояние беседы.
	DeleteChat(chatID string) error
}
