package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Duet/internal/cli/api"
	"Duet/internal/cli/crypto"
	"Duet/internal/cli/model"
	"Duet/internal/cli/repo"
	"Duet/internal/events"
	smodel "Duet/internal/model"
	"Duet/internal/timeline"

	"go.uber.org/zap"
)

// Update - изменение локального состояния после применения события.
type Update struct {
	Kind      events.Kind
	Message   *model.Message
	Receipt   *model.Receipt
	MessageID string
	Reactions []model.Reaction
	OnlineUID string
	OnlineAt  time.Time
}

// AckFunc подтверждает сохранение входящего сообщения на сервере.
type AckFunc func(ctx context.Context, chatID, messageID string) error

// Applier применяет события беседы к локальной ленте.
type Applier struct {
	conv     Conversation
	uid      string
	core     *crypto.Core
	store    repo.TimelineStore
	presence *Presence
	ack      AckFunc
	logger   *zap.SugaredLogger
}

func NewApplier(conv Conversation, uid string, core *crypto.Core, store repo.TimelineStore, presence *Presence, ack AckFunc, logger *zap.SugaredLogger) *Applier {
	return &Applier{conv: conv, uid: uid, core: core, store: store, presence: presence, ack: ack, logger: logger}
}

// Apply применяет одно событие. Событие чужой беседы игнорируется.
func (a *Applier) Apply(ctx context.Context, ev events.Event) (*Update, error) {
	if ev.ChatID != "" && ev.ChatID != a.conv.ChatID {
		return nil, nil
	}
	switch ev.Kind {
	case events.KindMessageAppended:
		if ev.Envelope == nil {
			return nil, fmt.Errorf("appended event without envelope")
		}
		msg, err := a.Envelope(ctx, *ev.Envelope)
		if err != nil {
			return nil, err
		}
		return &Update{Kind: ev.Kind, Message: msg}, nil

	case events.KindReceiptUpsert:
		if ev.Receipt == nil {
			return nil, fmt.Errorf("receipt event without receipt")
		}
		r := receiptFromWire(*ev.Receipt)
		if err := a.store.UpsertReceipt(r); err != nil {
			return nil, err
		}
		return &Update{Kind: ev.Kind, Receipt: &r, MessageID: r.MessageID}, nil

	case events.KindReceiptRemove:
		if err := a.store.DeleteReceipt(a.conv.ChatID, ev.MessageID); err != nil {
			return nil, err
		}
		return &Update{Kind: ev.Kind, MessageID: ev.MessageID}, nil

	case events.KindReactionsReplace:
		rs := a.decryptReactions(ev.Reactions)
		if err := a.store.ReplaceReactions(a.conv.ChatID, ev.MessageID, rs); err != nil {
			return nil, err
		}
		return &Update{Kind: ev.Kind, MessageID: ev.MessageID, Reactions: rs}, nil

	case events.KindHeartbeat:
		hb := ev.Heartbeat
		if hb == nil || hb.SenderID == a.uid || hb.SentAt <= 0 {
			return nil, nil
		}
		at := time.UnixMilli(hb.SentAt)
		a.presence.Observe(hb.SenderID, at)
		return &Update{Kind: ev.Kind, OnlineUID: hb.SenderID, OnlineAt: at}, nil

	case events.KindAccessRevoked:
		return nil, api.ErrAccessRevoked
	}
	a.logger.Warnw("unknown event kind", "kind", ev.Kind)
	return nil, nil
}

// Envelope расшифровывает конверт, сохраняет сообщение, подтверждает доставку
// (если адресат - мы) и двигает курсор хвоста. Неудачное подтверждение только логируется.
func (a *Applier) Envelope(ctx context.Context, env smodel.Envelope) (*model.Message, error) {
	msg, err := a.receive(ctx, env)
	var ae *ackError
	if errors.As(err, &ae) {
		// конверт останется на сервере и придёт снова
		a.logger.Warnw("ack failed", "messageID", env.ID, "error", ae.err)
		return msg, nil
	}
	return msg, err
}

// ackError - сообщение сохранено локально, но сервер не принял подтверждение.
type ackError struct{ err error }

func (e *ackError) Error() string { return "ack: " + e.err.Error() }
func (e *ackError) Unwrap() error { return e.err }

// receive - то же, что Envelope, но неудачное подтверждение возвращает как *ackError
// вместе с сохранённым сообщением.
func (a *Applier) receive(ctx context.Context, env smodel.Envelope) (*model.Message, error) {
	msg := a.decode(env)
	if err := a.store.UpsertMessages([]model.Message{msg}); err != nil {
		return nil, err
	}
	var ackErr error
	if env.RecipientID == a.uid && a.ack != nil {
		ackErr = a.ack(ctx, env.ChatID, env.ID)
	}
	if err := a.advance(env.Key()); err != nil {
		return nil, err
	}
	if ackErr != nil {
		return &msg, &ackError{err: ackErr}
	}
	return &msg, nil
}

func (a *Applier) decode(env smodel.Envelope) model.Message {
	msg := model.Message{ID: env.ID, ChatID: env.ChatID, SenderID: env.SenderID, SentAt: env.SentAt}
	text, err := a.core.Decrypt(env.Ciphertext, a.conv.PartnerUID)
	if err != nil {
		a.logger.Warnw("message not decryptable", "messageID", env.ID, "error", err)
		msg.Undecryptable = true
		return msg
	}
	msg.Text = string(text)
	return msg
}

func (a *Applier) decryptReactions(slots map[string]smodel.ReactionSlot) []model.Reaction {
	out := make([]model.Reaction, 0, len(slots))
	for reactor, slot := range slots {
		emoji, err := a.core.Decrypt(slot.Ciphertext, a.conv.PartnerUID)
		if err != nil {
			a.logger.Warnw("reaction not decryptable", "reactor", reactor, "error", err)
			continue
		}
		out = append(out, model.Reaction{ReactorUID: reactor, Emoji: string(emoji), UpdatedAt: slot.UpdatedAt})
	}
	return out
}

func tailKey(chatID string) string { return "tail/" + chatID }

// TailCursor - ключ последнего сообщения, полученного из хвоста.
func (a *Applier) TailCursor() (timeline.Cursor, error) {
	return loadCursor(a.store, a.conv.ChatID)
}

func (a *Applier) advance(c timeline.Cursor) error {
	cur, err := loadCursor(a.store, a.conv.ChatID)
	if err != nil {
		return err
	}
	if !cur.Less(c) {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return a.store.Put(tailKey(a.conv.ChatID), string(b))
}

func loadCursor(kv repo.KVStore, chatID string) (timeline.Cursor, error) {
	var c timeline.Cursor
	v, ok, err := kv.Get(tailKey(chatID))
	if err != nil || !ok {
		return c, err
	}
	if err := json.Unmarshal([]byte(v), &c); err != nil {
		return timeline.Cursor{}, fmt.Errorf("corrupt tail cursor: %w", err)
	}
	return c, nil
}

func receiptFromWire(r smodel.Receipt) model.Receipt {
	return model.Receipt{
		ChatID:      r.ChatID,
		MessageID:   r.MessageID,
		RecipientID: r.RecipientID,
		DeliveredAt: r.DeliveredAt,
		ReadAt:      r.ReadAt,
	}
}

// isRevoked - сервер закрыл поток из-за разрыва пары.
func isRevoked(err error) bool {
	return errors.Is(err, api.ErrAccessRevoked)
}
