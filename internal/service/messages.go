package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"Duet/internal/apperr"
	"Duet/internal/events"
	"Duet/internal/model"
	"Duet/internal/push"
	"Duet/internal/repo"
	"Duet/internal/timeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxPageSize ограничивает любую выборку истории.
const maxPageSize = 500

// MessageService - почтовый протокол: конверты, квитанции, реакции и heartbeat.
type MessageService struct {
	users    repo.UserRepository
	messages repo.MessageRepository
	bus      EventBus
	push     push.Notifier
	logger   *zap.SugaredLogger

	bootstrapWindow int
	catchupWindow   int
	now             func() time.Time
}

func NewMessageService(users repo.UserRepository, messages repo.MessageRepository, bus EventBus, notifier push.Notifier, bootstrapWindow, catchupWindow int, logger *zap.SugaredLogger) *MessageService {
	return &MessageService{
		users:           users,
		messages:        messages,
		bus:             bus,
		push:            notifier,
		logger:          logger,
		bootstrapWindow: bootstrapWindow,
		catchupWindow:   catchupWindow,
		now:             utcNow,
	}
}

// Send кладёт зашифрованный конверт в почтовый ящик партнёра.
func (s *MessageService) Send(ctx context.Context, caller, chatID, ciphertext string, keyVersion int) (*model.Envelope, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return nil, apperr.ErrEmptyCiphertext
	}
	if keyVersion <= 0 {
		keyVersion = 1
	}
	chatID, partner, err := s.requireMutual(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}

	env := &model.Envelope{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		SenderID:    caller,
		RecipientID: partner.UID,
		Ciphertext:  ciphertext,
		SentAt:      model.UnixMilli(s.now()),
		KeyVersion:  keyVersion,
	}
	if err := s.messages.CreateEnvelope(ctx, env); err != nil {
		return nil, storeErr("create envelope", err)
	}
	s.bus.Publish(ctx, events.Event{Kind: events.KindMessageAppended, ChatID: chatID, Envelope: env})

	// push best-effort: сообщение уже в ящике
	if err := s.push.Notify(ctx, partner.PushToken, push.Payload{
		EncryptedBody: ciphertext,
		SenderID:      caller,
		ChatID:        chatID,
	}); err != nil {
		s.logger.Warnw("push notify failed", "chat_id", chatID, "message_id", env.ID, "error", err)
	}
	return env, nil
}

// Ack подтверждает сохранение сообщения получателем: конверт превращается в квитанцию.
// Повторный вызов успешен и возвращает alreadyAcked=true.
func (s *MessageService) Ack(ctx context.Context, caller, chatID, messageID string) (*model.Receipt, bool, error) {
	chatID, messageID, err := s.requireMember(caller, chatID, messageID)
	if err != nil {
		return nil, false, err
	}

	rec, already, err := s.messages.AckEnvelope(ctx, chatID, messageID, caller, s.now())
	switch {
	case errors.Is(err, repo.ErrNotRecipient):
		return nil, false, apperr.ErrNotRecipient
	case errors.Is(err, repo.ErrConflict):
		// параллельный ack успел удалить конверт
		rec, gerr := s.messages.GetReceipt(ctx, chatID, messageID)
		if gerr != nil {
			rec = nil
		}
		return rec, true, nil
	case err != nil:
		return nil, false, storeErr("ack envelope", err)
	}

	if !already && rec != nil {
		s.bus.Publish(ctx, events.Event{Kind: events.KindReceiptUpsert, ChatID: chatID, Receipt: rec})
	}
	return rec, already, nil
}

// MarkRead ставит readAt один раз. Повторный вызов возвращает alreadyRead=true.
func (s *MessageService) MarkRead(ctx context.Context, caller, chatID, messageID string) (*model.Receipt, bool, error) {
	chatID, messageID, err := s.requireMember(caller, chatID, messageID)
	if err != nil {
		return nil, false, err
	}

	rec, err := s.messages.GetReceipt(ctx, chatID, messageID)
	if err != nil {
		if isNotFound(err) {
			return nil, false, apperr.ErrReceiptNotFound
		}
		return nil, false, storeErr("load receipt", err)
	}
	if rec.RecipientID != caller {
		return nil, false, apperr.ErrNotRecipient
	}

	updated, err := s.messages.MarkRead(ctx, chatID, messageID, s.now())
	if err != nil {
		return nil, false, storeErr("mark read", err)
	}
	if rec, err = s.messages.GetReceipt(ctx, chatID, messageID); err != nil {
		return nil, false, storeErr("load receipt", err)
	}
	if updated {
		s.bus.Publish(ctx, events.Event{Kind: events.KindReceiptUpsert, ChatID: chatID, Receipt: rec})
	}
	return rec, !updated, nil
}

// SetReaction записывает реакцию вызывающего (один слот на пользователя и сообщение).
func (s *MessageService) SetReaction(ctx context.Context, caller, chatID, messageID, ciphertext string, keyVersion int) (map[string]model.ReactionSlot, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return nil, apperr.ErrEmptyCiphertext
	}
	if keyVersion <= 0 {
		keyVersion = 1
	}
	chatID, messageID, err := s.requireMember(caller, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requireMutual(ctx, caller, chatID); err != nil {
		return nil, err
	}

	if err := s.messages.UpsertReaction(ctx, &model.Reaction{
		ChatID:     chatID,
		MessageID:  messageID,
		ReactorUID: caller,
		Ciphertext: ciphertext,
		KeyVersion: keyVersion,
		UpdatedAt:  s.now(),
	}); err != nil {
		return nil, storeErr("upsert reaction", err)
	}
	return s.publishReactions(ctx, chatID, messageID)
}

// ClearReaction удаляет реакцию вызывающего. Отсутствие реакции не ошибка.
func (s *MessageService) ClearReaction(ctx context.Context, caller, chatID, messageID string) (map[string]model.ReactionSlot, error) {
	chatID, messageID, err := s.requireMember(caller, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requireMutual(ctx, caller, chatID); err != nil {
		return nil, err
	}

	if _, err := s.messages.DeleteReaction(ctx, chatID, messageID, caller); err != nil {
		return nil, storeErr("delete reaction", err)
	}
	return s.publishReactions(ctx, chatID, messageID)
}

func (s *MessageService) publishReactions(ctx context.Context, chatID, messageID string) (map[string]model.ReactionSlot, error) {
	rows, err := s.messages.ListReactions(ctx, chatID, messageID)
	if err != nil {
		return nil, storeErr("list reactions", err)
	}
	m := model.ReactionMap(rows)
	s.bus.Publish(ctx, events.Event{Kind: events.KindReactionsReplace, ChatID: chatID, MessageID: messageID, Reactions: m})
	return m, nil
}

// Snapshot - начальное окно беседы.
type Snapshot struct {
	Envelopes []model.Envelope
	Receipts  []model.Receipt
}

// Bootstrap возвращает последние конверты и квитанции по убыванию (sentAt, id).
func (s *MessageService) Bootstrap(ctx context.Context, caller, chatID string, limit int) (*Snapshot, error) {
	chatID, _, err := s.requireMutual(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}
	limit = s.clampLimit(limit, s.bootstrapWindow)

	envs, err := s.messages.LatestEnvelopes(ctx, chatID, limit)
	if err != nil {
		return nil, storeErr("load envelopes", err)
	}
	recs, err := s.messages.LatestReceipts(ctx, chatID, limit)
	if err != nil {
		return nil, storeErr("load receipts", err)
	}
	return &Snapshot{Envelopes: envs, Receipts: recs}, nil
}

// Page - страница назад от курсора. next=false, когда история кончилась.
func (s *MessageService) Page(ctx context.Context, caller, chatID string, cursor timeline.Cursor, limit int) ([]model.Envelope, timeline.Cursor, bool, error) {
	chatID, _, err := s.requireMutual(ctx, caller, chatID)
	if err != nil {
		return nil, timeline.Cursor{}, false, err
	}
	limit = s.clampLimit(limit, s.bootstrapWindow)

	page, err := s.messages.EnvelopesBefore(ctx, chatID, cursor, limit)
	if err != nil {
		return nil, timeline.Cursor{}, false, storeErr("load page", err)
	}
	next, ok := timeline.Next(page)
	return page, next, ok && len(page) == limit, nil
}

// Inbox - неподтверждённые конверты, адресованные вызывающему, по возрастанию.
func (s *MessageService) Inbox(ctx context.Context, caller string, limit int) ([]model.Envelope, error) {
	limit = s.clampLimit(limit, s.bootstrapWindow)
	out, err := s.messages.PendingFor(ctx, caller, limit)
	if err != nil {
		return nil, storeErr("load inbox", err)
	}
	return out, nil
}

// Heartbeat фиксирует сигнал присутствия вызывающего.
func (s *MessageService) Heartbeat(ctx context.Context, caller, chatID string) (*model.Heartbeat, error) {
	chatID, _, err := s.requireMutual(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}
	hb := &model.Heartbeat{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		SenderID: caller,
		SentAt:   model.UnixMilli(s.now()),
	}
	if err := s.messages.CreateHeartbeat(ctx, hb); err != nil {
		return nil, storeErr("create heartbeat", err)
	}
	s.bus.Publish(ctx, events.Event{Kind: events.KindHeartbeat, ChatID: chatID, Heartbeat: hb})
	return hb, nil
}

// Subscribe открывает живую подписку на беседу. Подписка оформляется до чтения
// догоняющих конвертов, поэтому между ними ничего не теряется; дубликаты клиент
// отбрасывает по id.
func (s *MessageService) Subscribe(ctx context.Context, caller, chatID string, after timeline.Cursor, handler events.Handler) (*events.Subscription, []model.Envelope, error) {
	chatID, _, err := s.requireMutual(ctx, caller, chatID)
	if err != nil {
		return nil, nil, err
	}

	sub := s.bus.Subscribe(chatID, handler)

	var catchup []model.Envelope
	if after.IsZero() {
		catchup, err = s.messages.LatestEnvelopes(ctx, chatID, s.catchupWindow)
		timeline.SortAscending(catchup)
	} else {
		catchup, err = s.messages.EnvelopesAfter(ctx, chatID, after, maxPageSize)
	}
	if err != nil {
		sub.Cancel()
		return nil, nil, storeErr("load catch-up", err)
	}
	return sub, catchup, nil
}

// CanAccess заново проверяет, что вызывающий в взаимной паре беседы.
func (s *MessageService) CanAccess(ctx context.Context, caller, chatID string) error {
	_, _, err := s.requireMutual(ctx, caller, chatID)
	return err
}

func (s *MessageService) clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

// requireMember проверяет формат идентификаторов и что caller - участник беседы.
func (s *MessageService) requireMember(caller, chatID, messageID string) (string, string, error) {
	chatID = strings.TrimSpace(chatID)
	messageID = strings.TrimSpace(messageID)
	if messageID == "" || strings.ContainsAny(messageID, "/ ") {
		return "", "", apperr.ErrInvalidMessageID
	}
	a, b, ok := timeline.Members(chatID)
	if !ok {
		return "", "", apperr.ErrInvalidChatID
	}
	if caller != a && caller != b {
		return "", "", apperr.ErrNotChatMember
	}
	return chatID, messageID, nil
}

// requireMutual - caller участник беседы и пара взаимна прямо сейчас.
func (s *MessageService) requireMutual(ctx context.Context, caller, chatID string) (string, *model.User, error) {
	chatID = strings.TrimSpace(chatID)
	a, b, ok := timeline.Members(chatID)
	if !ok {
		return "", nil, apperr.ErrInvalidChatID
	}
	partnerUID := b
	switch caller {
	case a:
	case b:
		partnerUID = a
	default:
		return "", nil, apperr.ErrNotChatMember
	}

	me, err := s.users.GetByUID(ctx, caller)
	if err != nil {
		if isNotFound(err) {
			return "", nil, apperr.ErrProfileNotFound
		}
		return "", nil, storeErr("load profile", err)
	}
	partner, err := s.users.GetByUID(ctx, partnerUID)
	if err != nil {
		if isNotFound(err) {
			return "", nil, apperr.ErrNotPaired
		}
		return "", nil, storeErr("load partner", err)
	}
	if !model.IsMutual(me, partner) {
		return "", nil, apperr.ErrNotPaired
	}
	return chatID, partner, nil
}
