package handlers

import (
	"context"
	"net/http"

	"Duet/internal/model"
	"Duet/internal/service"

	"go.uber.org/zap"
)

type PairingHandler struct {
	Service *service.PairingService
	Logger  *zap.SugaredLogger
}

func NewPairingHandler(svc *service.PairingService, logger *zap.SugaredLogger) *PairingHandler {
	return &PairingHandler{Service: svc, Logger: logger}
}

type createPairRequest struct {
	PartnerCode string `json:"partnerCode"`
}

type respondRequest struct {
	RequestID string `json:"requestID"`
	Decision  string `json:"decision"`
}

type requestsResponse struct {
	Incoming []model.RelationshipRequest `json:"incoming"`
	Outgoing []model.RelationshipRequest `json:"outgoing"`
}

func (h *PairingHandler) CreatePairRequest(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req createPairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	out, err := h.Service.CreatePairRequest(r.Context(), uid, req.PartnerCode)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PairingHandler) RespondPairRequest(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Service.RespondPairRequest)
}

func (h *PairingHandler) CreateUnpairRequest(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	out, err := h.Service.CreateUnpairRequest(r.Context(), uid)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PairingHandler) RespondUnpairRequest(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Service.RespondUnpairRequest)
}

type respondFunc func(ctx context.Context, responderUID, requestID, decision string) (*model.RelationshipRequest, error)

func (h *PairingHandler) respond(w http.ResponseWriter, r *http.Request, fn respondFunc) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	out, err := fn(r.Context(), uid, req.RequestID, req.Decision)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Requests - входящие и исходящие ожидающие запросы.
func (h *PairingHandler) Requests(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	in, out, err := h.Service.ListRequests(r.Context(), uid)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if in == nil {
		in = []model.RelationshipRequest{}
	}
	if out == nil {
		out = []model.RelationshipRequest{}
	}
	writeJSON(w, http.StatusOK, requestsResponse{Incoming: in, Outgoing: out})
}
