// Package events - внутрипроцессная шина событий беседы для живых подписчиков
// с необязательной ретрансляцией между инстансами через Redis.
package events

import "Duet/internal/model"

// Kind - тип события беседы.
type Kind string

const (
	KindMessageAppended  Kind = "message.appended"
	KindReceiptUpsert    Kind = "receipt.upsert"
	KindReceiptRemove    Kind = "receipt.remove"
	KindReactionsReplace Kind = "reactions.replace"
	KindHeartbeat        Kind = "heartbeat"
	// KindAccessRevoked закрывает все подписки беседы (пара разорвана).
	KindAccessRevoked Kind = "access.revoked"
)

// Event - одно изменение в беседе. Заполнено только поле, соответствующее Kind.
type Event struct {
	Kind      Kind                          `json:"kind"`
	ChatID    string                        `json:"chatID"`
	Envelope  *model.Envelope               `json:"envelope,omitempty"`
	Receipt   *model.Receipt                `json:"receipt,omitempty"`
	MessageID string                        `json:"messageID,omitempty"`
	Reactions map[string]model.ReactionSlot `json:"reactions,omitempty"`
	Heartbeat *model.Heartbeat              `json:"heartbeat,omitempty"`

	// Origin - id инстанса, опубликовавшего событие; нужен только ретранслятору.
	Origin string `json:"origin,omitempty"`
}

// Коды закрытия websocket-потока беседы сверх стандартных.
const (
	// CloseAccessRevoked - вызывающий больше не в взаимной паре.
	CloseAccessRevoked = 4403
)
