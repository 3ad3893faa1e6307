package handlers

import (
	"net/http"
	"strconv"

	"Duet/internal/apperr"
	"Duet/internal/model"
	"Duet/internal/service"
	"Duet/internal/timeline"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MessageHandler - конверты, квитанции, реакции и история.
type MessageHandler struct {
	Service *service.MessageService
	Logger  *zap.SugaredLogger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.SugaredLogger) *MessageHandler {
	return &MessageHandler{Service: svc, Logger: logger}
}

type sendMessageRequest struct {
	ChatID     string `json:"chatID"`
	Ciphertext string `json:"ciphertext"`
	KeyVersion int    `json:"keyVersion"`
}

type messageRef struct {
	ChatID    string `json:"chatID"`
	MessageID string `json:"messageID"`
}

type reactionRequest struct {
	ChatID     string `json:"chatID"`
	MessageID  string `json:"messageID"`
	Ciphertext string `json:"ciphertext"`
	KeyVersion int    `json:"keyVersion"`
}

type ackResponse struct {
	AlreadyAcked bool           `json:"alreadyAcked"`
	Receipt      *model.Receipt `json:"receipt,omitempty"`
}

type readResponse struct {
	AlreadyRead bool           `json:"alreadyRead"`
	Receipt     *model.Receipt `json:"receipt,omitempty"`
}

type reactionsResponse struct {
	MessageID string                        `json:"messageID"`
	Reactions map[string]model.ReactionSlot `json:"reactions"`
}

type historyResponse struct {
	Envelopes  []model.Envelope `json:"envelopes"`
	Receipts   []model.Receipt  `json:"receipts,omitempty"`
	NextCursor *timeline.Cursor `json:"nextCursor,omitempty"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	env, err := h.Service.Send(r.Context(), uid, req.ChatID, req.Ciphertext, req.KeyVersion)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *MessageHandler) Ack(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req messageRef
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	rec, already, err := h.Service.Ack(r.Context(), uid, req.ChatID, req.MessageID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{AlreadyAcked: already, Receipt: rec})
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req messageRef
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	rec, already, err := h.Service.MarkRead(r.Context(), uid, req.ChatID, req.MessageID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{AlreadyRead: already, Receipt: rec})
}

func (h *MessageHandler) SetReaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req reactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	m, err := h.Service.SetReaction(r.Context(), uid, req.ChatID, req.MessageID, req.Ciphertext, req.KeyVersion)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reactionsResponse{MessageID: req.MessageID, Reactions: m})
}

func (h *MessageHandler) ClearReaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req messageRef
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	m, err := h.Service.ClearReaction(r.Context(), uid, req.ChatID, req.MessageID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reactionsResponse{MessageID: req.MessageID, Reactions: m})
}

func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	envs, err := h.Service.Inbox(r.Context(), uid, limit)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if envs == nil {
		envs = []model.Envelope{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Envelopes: envs})
}

// History без курсора отдаёт начальное окно вместе с квитанциями,
// с курсором before_ts/before_id - следующую страницу назад.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "chatID")
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	cursor, err := queryCursor(r, "before_ts", "before_id")
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	var resp historyResponse
	if cursor.IsZero() {
		snap, err := h.Service.Bootstrap(r.Context(), uid, chatID, limit)
		if err != nil {
			writeError(w, h.Logger, r, err)
			return
		}
		resp.Envelopes, resp.Receipts = snap.Envelopes, snap.Receipts
		if next, ok := timeline.Next(snap.Envelopes); ok {
			resp.NextCursor = &next
		}
	} else {
		page, next, more, err := h.Service.Page(r.Context(), uid, chatID, cursor, limit)
		if err != nil {
			writeError(w, h.Logger, r, err)
			return
		}
		resp.Envelopes = page
		if more {
			resp.NextCursor = &next
		}
	}
	if resp.Envelopes == nil {
		resp.Envelopes = []model.Envelope{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	hb, err := h.Service.Heartbeat(r.Context(), uid, chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hb)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidInput(name + " must be a non-negative integer")
	}
	return n, nil
}

// queryCursor читает пару (ts, id). Оба параметра задаются вместе или не задаются.
func queryCursor(r *http.Request, tsName, idName string) (timeline.Cursor, error) {
	q := r.URL.Query()
	rawTS, id := q.Get(tsName), q.Get(idName)
	if rawTS == "" && id == "" {
		return timeline.Cursor{}, nil
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil || ts <= 0 || id == "" {
		return timeline.Cursor{}, apperr.InvalidInput(tsName + " and " + idName + " must be set together")
	}
	return timeline.Cursor{At: ts, ID: id}, nil
}
