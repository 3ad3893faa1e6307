package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"Duet/internal/events"
	"Duet/internal/timeline"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait = 10 * time.Second
	// сервер пингует чаще; дольше тишины - соединение считаем потерянным
	streamReadWait = 90 * time.Second
)

var (
	// ErrAccessRevoked - пара разорвана, поток закрыт сервером. Штатная ситуация.
	ErrAccessRevoked = errors.New("access to the conversation was revoked")
	// ErrServerGoingAway - сервер останавливается; можно переподключиться с курсором.
	ErrServerGoingAway = errors.New("server is going away")
)

// Stream - живой хвост беседы: догоняющие конверты и события.
type Stream struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

// OpenStream подписывается на беседу. after - исключающая нижняя граница (sentAt, id);
// нулевой курсор - последние сообщения окна догона.
func (c *Client) OpenStream(ctx context.Context, chatID string, after timeline.Cursor) (*Stream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/chats/" + url.PathEscape(chatID) + "/stream"
	if !after.IsZero() {
		q := url.Values{}
		q.Set("after_ts", strconv.FormatInt(after.At, 10))
		q.Set("after_id", after.ID)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Cookie", "auth_token="+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, decodeError(resp.StatusCode, body)
		}
		return nil, &Error{Code: CodeTransient, Message: err.Error()}
	}

	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(streamWriteWait))
	})

	s := &Stream{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Next блокируется до следующего события. Закрытие со стороны сервера
// переводится в ErrAccessRevoked, ErrServerGoingAway или io.EOF.
func (s *Stream) Next() (events.Event, error) {
	var ev events.Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		return events.Event{}, closeReason(err)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(streamReadWait))
	return ev, nil
}

// Close закрывает поток; повторный вызов безопасен.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
		err = s.conn.Close()
	})
	return err
}

func closeReason(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case events.CloseAccessRevoked:
		return ErrAccessRevoked
	case websocket.CloseGoingAway:
		return ErrServerGoingAway
	case websocket.CloseNormalClosure:
		return io.EOF
	case websocket.CloseTryAgainLater:
		return &Error{Code: CodeTransient, Message: "stream overflowed, reconnect"}
	}
	return err
}
