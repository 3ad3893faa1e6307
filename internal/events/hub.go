package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler получает события подписки. Не должен блокироваться и не должен
// вызывать Cancel своей же подписки.
type Handler func(Event)

// Relay пересылает события другим инстансам сервера.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
	// Run доставляет чужие события в deliver до отмены ctx.
	Run(ctx context.Context, deliver func(Event)) error
}

// Hub раздаёт события подписчикам по chatID.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	relay  Relay
	logger *zap.SugaredLogger
}

// NewHub создаёт пустой хаб без ретрансляции.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// AttachRelay подключает ретранслятор и запускает приём событий от других инстансов.
func (h *Hub) AttachRelay(ctx context.Context, relay Relay) error {
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()

	return relay.Run(ctx, h.dispatch)
}

// Subscribe регистрирует обработчик событий беседы.
func (h *Hub) Subscribe(chatID string, handler Handler) *Subscription {
	s := &Subscription{hub: h, chatID: chatID, handler: handler}

	h.mu.Lock()
	set, ok := h.subs[chatID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[chatID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	return s
}

// Publish доставляет событие локальным подписчикам и, если есть, ретранслятору.
// Ошибка ретрансляции логируется и не возвращается: локальная доставка уже произошла.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.dispatch(ev)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(ctx, ev); err != nil {
		h.logger.Warnw("relay publish failed", "chat_id", ev.ChatID, "kind", ev.Kind, "error", err)
	}
}

// Subscribers - число активных подписок беседы.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	set := h.subs[ev.ChatID]
	targets := make([]*Subscription, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.deliver(ev)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.chatID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.chatID)
	}
}

// Subscription - живая подписка на беседу.
type Subscription struct {
	hub    *Hub
	chatID string

	mu      sync.Mutex
	handler Handler
	closed  bool
}

// Cancel идемпотентен. После возврата обработчик больше не вызывается.
func (s *Subscription) Cancel() {
	s.hub.remove(s)

	// ждём окончания текущей доставки
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(ev)
}
