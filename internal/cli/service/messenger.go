// Package service - юзкейсы CLI: пара, отправка, синхронизация и живой хвост беседы.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"Duet/internal/cli/api"
	"Duet/internal/cli/crypto"
	"Duet/internal/cli/model"
	"Duet/internal/cli/repo"
	"Duet/internal/events"
	"Duet/internal/timeline"

	"go.uber.org/zap"
)

// keyVersion - версия общего ключа; ротации ключей пока нет.
const keyVersion = 1

const (
	// пачка входящих вместе с подтверждениями укладывается в запас лимитера сервера
	inboxBatch   = 20
	inboxRounds  = 10
	partnerState = "partner"

	tailRetryMin = 500 * time.Millisecond
	tailRetryMax = 15 * time.Second
)

var (
	ErrNotPaired         = errors.New("not paired")
	ErrPartnerKeyMissing = errors.New("partner has not published a public key yet")
	ErrEmptyMessage      = errors.New("message is empty")
)

// Conversation - текущая пара с точки зрения клиента.
type Conversation struct {
	ChatID          string
	PartnerUID      string
	PartnerName     string
	PartnerMood     string
	PartnerLocation string
}

// partnerRecord - последний известный собеседник; по нему определяется смена пары.
type partnerRecord struct {
	UID       string `json:"uid"`
	ChatID    string `json:"chatID"`
	PublicKey string `json:"publicKey"`
}

// Line - сообщение ленты со статусом и реакциями.
type Line struct {
	model.Message
	Status    string
	Reactions []model.Reaction
}

type Messenger struct {
	api      *api.Client
	core     *crypto.Core
	store    repo.TimelineStore
	uid      string
	presence *Presence
	logger   *zap.SugaredLogger
}

func NewMessenger(client *api.Client, store repo.TimelineStore, uid string, logger *zap.SugaredLogger) *Messenger {
	return &Messenger{
		api:      client,
		core:     crypto.NewCore(store, uid),
		store:    store,
		uid:      uid,
		presence: NewPresence(),
		logger:   logger,
	}
}

func (m *Messenger) UID() string          { return m.uid }
func (m *Messenger) Presence() *Presence  { return m.presence }
func (m *Messenger) Crypto() *crypto.Core { return m.core }

// EnsureIdentity публикует открытый ключ, если на сервере другой или его нет.
func (m *Messenger) EnsureIdentity(ctx context.Context, p *api.Profile) error {
	pub, err := m.core.IdentityPublicKey()
	if err != nil {
		return err
	}
	if p != nil && p.PublicKey == pub {
		return nil
	}
	if err := m.api.PublishKey(ctx, pub); err != nil {
		return fmt.Errorf("publish public key: %w", err)
	}
	return nil
}

// Refresh читает профиль, публикует ключ и выводит общий ключ с собеседником.
// Если пара сменилась или разорвана, локальное состояние прежней беседы стирается.
func (m *Messenger) Refresh(ctx context.Context) (*Conversation, error) {
	p, err := m.api.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.EnsureIdentity(ctx, p); err != nil {
		return nil, err
	}
	prev, err := m.loadPartner()
	if err != nil {
		return nil, err
	}
	if !p.Paired || p.Partner == nil {
		if prev != nil {
			if err := m.forget(*prev); err != nil {
				return nil, err
			}
		}
		return nil, ErrNotPaired
	}
	partner := p.Partner
	if prev != nil && (prev.UID != partner.UID || prev.ChatID != p.ChatID) {
		if err := m.forget(*prev); err != nil {
			return nil, err
		}
		prev = nil
	}
	if partner.PublicKey == "" {
		return nil, ErrPartnerKeyMissing
	}
	if prev == nil || prev.PublicKey != partner.PublicKey || !m.core.HasSharedKey(partner.UID) {
		if err := m.core.EstablishSharedKey(partner.PublicKey, partner.UID); err != nil {
			return nil, err
		}
		if err := m.savePartner(partnerRecord{UID: partner.UID, ChatID: p.ChatID, PublicKey: partner.PublicKey}); err != nil {
			return nil, err
		}
		m.logger.Infow("shared key established", "chatID", p.ChatID, "partner", partner.UID)
	}

	conv := &Conversation{
		ChatID:      p.ChatID,
		PartnerUID:  partner.UID,
		PartnerName: strings.TrimSpace(partner.FirstName + " " + partner.LastName),
	}
	conv.PartnerMood = m.openOptional(partner.MoodCiphertext, partner.UID)
	conv.PartnerLocation = m.openOptional(partner.LocationCiphertext, partner.UID)
	return conv, nil
}

func (m *Messenger) openOptional(ct, partnerUID string) string {
	if ct == "" {
		return ""
	}
	b, err := m.core.Decrypt(ct, partnerUID)
	if err != nil {
		m.logger.Warnw("profile field not decryptable", "error", err)
		return ""
	}
	return string(b)
}

// Forget стирает общий ключ и ленту беседы (после разрыва пары).
func (m *Messenger) Forget(conv Conversation) error {
	return m.forget(partnerRecord{UID: conv.PartnerUID, ChatID: conv.ChatID})
}

func (m *Messenger) forget(p partnerRecord) error {
	if err := m.core.ClearSharedKey(p.UID); err != nil {
		return err
	}
	if err := m.store.DeleteChat(p.ChatID); err != nil {
		return err
	}
	if err := m.store.Delete(tailKey(p.ChatID)); err != nil {
		return err
	}
	m.logger.Infow("conversation state cleared", "chatID", p.ChatID)
	return m.store.Delete(partnerState)
}

func (m *Messenger) loadPartner() (*partnerRecord, error) {
	v, ok, err := m.store.Get(partnerState)
	if err != nil || !ok {
		return nil, err
	}
	var p partnerRecord
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return nil, fmt.Errorf("corrupt partner state: %w", err)
	}
	return &p, nil
}

func (m *Messenger) savePartner(p partnerRecord) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return m.store.Put(partnerState, string(b))
}

func (m *Messenger) applier(conv Conversation) *Applier {
	ack := func(ctx context.Context, chatID, messageID string) error {
		_, err := m.api.AckMessageStored(ctx, chatID, messageID)
		return err
	}
	return NewApplier(conv, m.uid, m.core, m.store, m.presence, ack, m.logger)
}

// Send шифрует и отправляет сообщение. Локально оно сохраняется только после
// успеха: при временной ошибке черновик остаётся у вызывающего.
func (m *Messenger) Send(ctx context.Context, conv Conversation, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	ct, err := m.core.Encrypt([]byte(text), conv.PartnerUID)
	if err != nil {
		return nil, err
	}
	env, err := m.api.SendMessage(ctx, conv.ChatID, ct, keyVersion)
	if err != nil {
		return nil, err
	}
	msg := model.Message{ID: env.ID, ChatID: env.ChatID, SenderID: env.SenderID, Text: text, SentAt: env.SentAt}
	if err := m.store.UpsertMessages([]model.Message{msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Sync забирает конверты из входящих, сохраняет и подтверждает их.
// Возвращаются только подтверждённые сообщения. Если подтверждения упёрлись во временную
// ошибку (лимит запросов, недоступность), Sync останавливается: остаток придёт в следующий раз.
func (m *Messenger) Sync(ctx context.Context, conv Conversation) ([]model.Message, error) {
	var out []model.Message
	err := m.drainInbox(ctx, m.applier(conv), func(msg model.Message) { out = append(out, msg) })
	if err != nil && len(out) > 0 && temporary(err) {
		m.logger.Warnw("sync stopped early", "received", len(out), "error", err)
		return out, nil
	}
	return out, err
}

// drainInbox применяет входящие конверты беседы; emit вызывается для подтверждённых.
func (m *Messenger) drainInbox(ctx context.Context, a *Applier, emit func(model.Message)) error {
	for round := 0; round < inboxRounds; round++ {
		envs, err := m.api.Inbox(ctx, inboxBatch)
		if err != nil {
			return err
		}
		got := 0
		for _, env := range envs {
			if env.ChatID != a.conv.ChatID {
				continue
			}
			msg, err := a.receive(ctx, env)
			var ae *ackError
			switch {
			case errors.As(err, &ae) && temporary(ae.err):
				return ae.err
			case ae != nil:
				m.logger.Warnw("ack failed", "messageID", env.ID, "error", ae.err)
				continue
			case err != nil:
				return &applyError{err: err}
			}
			emit(*msg)
			got++
		}
		// неподтверждённые конверты вернутся в следующей пачке
		if len(envs) < inboxBatch || got == 0 {
			break
		}
	}
	return nil
}

// Bootstrap загружает окно свежих конвертов и квитанций с сервера.
func (m *Messenger) Bootstrap(ctx context.Context, conv Conversation) (int, error) {
	h, err := m.api.History(ctx, conv.ChatID, timeline.Cursor{}, 0)
	if err != nil {
		return 0, err
	}
	a := m.applier(conv)
	for _, env := range h.Envelopes {
		if _, err := a.Envelope(ctx, env); err != nil {
			return 0, err
		}
	}
	for _, r := range h.Receipts {
		if err := m.store.UpsertReceipt(receiptFromWire(r)); err != nil {
			return 0, err
		}
	}
	return len(h.Envelopes), nil
}

// Page - страница локальной ленты назад от before (нулевой курсор - самые новые),
// по убыванию. more == true, если стоит просить следующую страницу.
func (m *Messenger) Page(chatID string, before timeline.Cursor, limit int) ([]Line, timeline.Cursor, bool, error) {
	msgs, err := m.store.MessagesBefore(chatID, before, limit)
	if err != nil {
		return nil, timeline.Cursor{}, false, err
	}
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	receipts, err := m.store.Receipts(chatID, ids)
	if err != nil {
		return nil, timeline.Cursor{}, false, err
	}
	reactions, err := m.store.Reactions(chatID, ids)
	if err != nil {
		return nil, timeline.Cursor{}, false, err
	}
	lines := make([]Line, len(msgs))
	for i, msg := range msgs {
		var r *model.Receipt
		if rc, ok := receipts[msg.ID]; ok {
			r = &rc
		}
		lines[i] = Line{Message: msg, Status: msg.Status(m.uid, r), Reactions: reactions[msg.ID]}
	}
	next, ok := timeline.Next(lines)
	return lines, next, ok && len(lines) == limit, nil
}

// MarkRead отмечает входящее сообщение прочитанным.
func (m *Messenger) MarkRead(ctx context.Context, conv Conversation, messageID string) (*model.Receipt, bool, error) {
	res, err := m.api.MarkMessageRead(ctx, conv.ChatID, messageID)
	if err != nil {
		return nil, false, err
	}
	if res.Receipt == nil {
		return nil, res.AlreadyRead, nil
	}
	r := receiptFromWire(*res.Receipt)
	if err := m.store.UpsertReceipt(r); err != nil {
		return nil, false, err
	}
	return &r, res.AlreadyRead, nil
}

// React ставит (или заменяет) свою реакцию; emoji шифруется общим ключом.
func (m *Messenger) React(ctx context.Context, conv Conversation, messageID, emoji string) ([]model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrEmptyMessage
	}
	ct, err := m.core.Encrypt([]byte(emoji), conv.PartnerUID)
	if err != nil {
		return nil, err
	}
	res, err := m.api.SetMessageReaction(ctx, conv.ChatID, messageID, ct, keyVersion)
	if err != nil {
		return nil, err
	}
	return m.replaceReactions(conv, res)
}

func (m *Messenger) Unreact(ctx context.Context, conv Conversation, messageID string) ([]model.Reaction, error) {
	res, err := m.api.ClearMessageReaction(ctx, conv.ChatID, messageID)
	if err != nil {
		return nil, err
	}
	return m.replaceReactions(conv, res)
}

func (m *Messenger) replaceReactions(conv Conversation, res *api.Reactions) ([]model.Reaction, error) {
	rs := m.applier(conv).decryptReactions(res.Reactions)
	if err := m.store.ReplaceReactions(conv.ChatID, res.MessageID, rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// Heartbeat сообщает собеседнику, что мы в сети.
func (m *Messenger) Heartbeat(ctx context.Context, conv Conversation) error {
	_, err := m.api.Heartbeat(ctx, conv.ChatID)
	return err
}

// SetStatus шифрует и публикует настроение и/или местоположение. nil - без изменений.
func (m *Messenger) SetStatus(ctx context.Context, conv Conversation, mood, location *string) error {
	var upd api.ProfileUpdate
	seal := func(s *string) (*string, error) {
		if s == nil {
			return nil, nil
		}
		if *s == "" {
			return s, nil
		}
		ct, err := m.core.Encrypt([]byte(*s), conv.PartnerUID)
		return &ct, err
	}
	var err error
	if upd.MoodCiphertext, err = seal(mood); err != nil {
		return err
	}
	if upd.LocationCiphertext, err = seal(location); err != nil {
		return err
	}
	return m.api.UpdateProfile(ctx, upd)
}

// Tail держит живой хвост беседы и вызывает fn на каждое изменение.
// Переподключается с курсора последнего сообщения; возвращает nil при отмене ctx
// и api.ErrAccessRevoked при разрыве пары (локальная беседа стирается).
func (m *Messenger) Tail(ctx context.Context, conv Conversation, fn func(Update)) error {
	a := m.applier(conv)
	wait := tailRetryMin
	for {
		cursor, err := a.TailCursor()
		if err != nil {
			return err
		}
		err = m.tailOnce(ctx, a, cursor, fn, func() { wait = tailRetryMin })
		switch {
		case ctx.Err() != nil:
			return nil
		case isRevoked(err):
			if ferr := m.Forget(conv); ferr != nil {
				m.logger.Errorw("clear conversation", "error", ferr)
			}
			return err
		case errors.Is(err, io.EOF):
			return nil
		case !retryable(err):
			return err
		}
		m.logger.Warnw("stream interrupted, reconnecting", "chatID", conv.ChatID, "in", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if wait *= 2; wait > tailRetryMax {
			wait = tailRetryMax
		}
	}
}

func (m *Messenger) tailOnce(ctx context.Context, a *Applier, after timeline.Cursor, fn func(Update), connected func()) error {
	s, err := m.api.OpenStream(ctx, a.conv.ChatID, after)
	if err != nil {
		return err
	}
	defer s.Close()
	connected()

	// Догон потока строго после курсора и пропускает конверт с тем же sentAt и меньшим id,
	// отправленный во время разрыва. Подписка уже активна, поэтому всё более раннее лежит во входящих.
	drained := map[string]struct{}{}
	err = m.drainInbox(ctx, a, func(msg model.Message) {
		drained[msg.ID] = struct{}{}
		if fn != nil {
			fn(Update{Kind: events.KindMessageAppended, Message: &msg})
		}
	})
	if err != nil {
		return err
	}

	for {
		ev, err := s.Next()
		if err != nil {
			return err
		}
		upd, err := a.Apply(ctx, ev)
		if err != nil {
			return &applyError{err: err}
		}
		if upd == nil || fn == nil {
			continue
		}
		if upd.Message != nil {
			if _, dup := drained[upd.Message.ID]; dup {
				delete(drained, upd.Message.ID)
				continue
			}
		}
		fn(*upd)
	}
}

// applyError - локальная ошибка применения события; переподключение не поможет.
type applyError struct{ err error }

func (e *applyError) Error() string { return "apply event: " + e.err.Error() }
func (e *applyError) Unwrap() error { return e.err }

// temporary - серверная ошибка, которую стоит повторить позже.
func temporary(err error) bool {
	var ae *api.Error
	return errors.As(err, &ae) && ae.Retryable()
}

// retryable - обрыв связи или временная ошибка сервера.
func retryable(err error) bool {
	if errors.Is(err, api.ErrServerGoingAway) {
		return true
	}
	var le *applyError
	if errors.As(err, &le) {
		return false
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	// прочие ошибки чтения сокета (таймаут, reset)
	return true
}
