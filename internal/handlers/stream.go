package handlers

import (
	"context"
	"net/http"
	"time"

	"Duet/internal/events"
	"Duet/internal/model"
	"Duet/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	// события, не ушедшие в сокет; при переполнении клиент переподключается с курсором
	sendBuffer = 256
)

// StreamHandler - живой хвост беседы поверх websocket.
type StreamHandler struct {
	Service  *service.MessageService
	Logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreamHandler(svc *service.MessageService, logger *zap.SugaredLogger) *StreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamHandler{
		Service: svc,
		Logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CLI не шлёт Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Shutdown закрывает все открытые потоки с кодом 1001.
func (h *StreamHandler) Shutdown() {
	h.cancel()
}

// Stream: подписка, затем догоняющие конверты после after_ts/after_id, затем события.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	after, err := queryCursor(r, "after_ts", "after_id")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	send := make(chan events.Event, sendBuffer)
	stop := make(chan int, 1)
	closeWith := func(code int) {
		select {
		case stop <- code:
		default:
		}
	}
	handler := func(ev events.Event) {
		if ev.Kind == events.KindAccessRevoked {
			closeWith(events.CloseAccessRevoked)
			return
		}
		select {
		case send <- ev:
		default:
			closeWith(websocket.CloseTryAgainLater)
		}
	}

	sub, catchup, err := h.Service.Subscribe(r.Context(), uid, chatID, after, handler)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.Logger.Warnw("websocket upgrade failed", "uid", uid, "error", err)
		return
	}
	defer conn.Close()

	h.Logger.Infow("stream opened", "uid", uid, "chat_id", chatID, "catchup", len(catchup))
	done := h.readPump(conn)

	for i := range catchup {
		if err := writeEvent(conn, appended(&catchup[i])); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			if err := writeEvent(conn, ev); err != nil {
				h.Logger.Infow("stream write failed", "uid", uid, "error", err)
				return
			}
		case code := <-stop:
			if code == events.CloseAccessRevoked {
				// дельты, опубликованные до revoked, уходят клиенту до закрытия
				flushQueued(conn, send)
			}
			h.Logger.Infow("stream closed by server", "uid", uid, "chat_id", chatID, "code", code)
			writeClose(conn, code, "")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-h.ctx.Done():
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

// readPump держит дедлайны по pong и ловит закрытие со стороны клиента.
// Входящие сообщения не используются.
func (h *StreamHandler) readPump(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.Logger.Infow("stream read error", "error", err)
				}
				return
			}
		}
	}()
	return done
}

func appended(env *model.Envelope) events.Event {
	return events.Event{Kind: events.KindMessageAppended, ChatID: env.ChatID, Envelope: env}
}

func flushQueued(conn *websocket.Conn, send <-chan events.Event) {
	for {
		select {
		case ev := <-send:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
