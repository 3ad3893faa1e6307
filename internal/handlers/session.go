package handlers

import (
	"net/http"

	"Duet/internal/service"

	"go.uber.org/zap"
)

type SessionHandler struct {
	Service *service.SessionService
	Logger  *zap.SugaredLogger
}

func NewSessionHandler(svc *service.SessionService, logger *zap.SugaredLogger) *SessionHandler {
	return &SessionHandler{Service: svc, Logger: logger}
}

type acquireLockRequest struct {
	InstallationID string `json:"installationID"`
	Platform       string `json:"platform"`
	DeviceName     string `json:"deviceName"`
	AppVersion     string `json:"appVersion"`
}

type releaseLockRequest struct {
	InstallationID string `json:"installationID"`
}

type releaseLockResponse struct {
	Released bool   `json:"released"`
	Outcome  string `json:"outcome"`
}

func (h *SessionHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req acquireLockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	lock, err := h.Service.Acquire(r.Context(), uid, service.LockRequest{
		InstallationID: req.InstallationID,
		Platform:       req.Platform,
		DeviceName:     req.DeviceName,
		AppVersion:     req.AppVersion,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

func (h *SessionHandler) Release(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req releaseLockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	released, outcome, err := h.Service.Release(r.Context(), uid, req.InstallationID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseLockResponse{Released: released, Outcome: outcome.String()})
}
