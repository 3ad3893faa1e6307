package handlers

import (
	"net/http"

	"Duet/internal/config"
	"Duet/internal/middleware"
	"Duet/internal/model"
	"Duet/internal/service"

	"go.uber.org/zap"
)

// UserHandler - регистрация, вход и профиль.
type UserHandler struct {
	UserService *service.UserService
	Logger      *zap.SugaredLogger
	Config      *config.Config
}

func NewUserHandler(userService *service.UserService, logger *zap.SugaredLogger, cfg *config.Config) *UserHandler {
	return &UserHandler{UserService: userService, Logger: logger, Config: cfg}
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	UID      string `json:"uid"`
	Login    string `json:"login"`
	PairCode string `json:"pairCode,omitempty"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	user, err := h.UserService.Register(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.Logger.Infow("user registered", "uid", user.UID)
	h.loggedIn(w, r, user)
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	user, err := h.UserService.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	h.loggedIn(w, r, user)
}

func (h *UserHandler) loggedIn(w http.ResponseWriter, r *http.Request, user *model.User) {
	if err := middleware.SetLoginCookie(w, user.UID, h.Config.AuthSecret); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	resp := authResponse{UID: user.UID, Login: user.Login}
	if user.PairCode != nil {
		resp.PairCode = *user.PairCode
	}
	writeJSON(w, http.StatusOK, resp)
}

// partnerView - то, что пользователь видит о партнёре.
type partnerView struct {
	UID                string `json:"uid"`
	FirstName          string `json:"firstName,omitempty"`
	LastName           string `json:"lastName,omitempty"`
	PublicKey          string `json:"publicKey,omitempty"`
	MoodCiphertext     string `json:"moodCiphertext,omitempty"`
	LocationCiphertext string `json:"locationCiphertext,omitempty"`
}

type profileResponse struct {
	UID                string       `json:"uid"`
	Login              string       `json:"login"`
	PairCode           string       `json:"pairCode"`
	FirstName          string       `json:"firstName,omitempty"`
	LastName           string       `json:"lastName,omitempty"`
	PublicKey          string       `json:"publicKey,omitempty"`
	MoodCiphertext     string       `json:"moodCiphertext,omitempty"`
	LocationCiphertext string       `json:"locationCiphertext,omitempty"`
	Paired             bool         `json:"paired"`
	ChatID             string       `json:"chatID,omitempty"`
	Partner            *partnerView `json:"partner,omitempty"`
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	p, err := h.UserService.Profile(r.Context(), uid)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	u := p.User
	resp := profileResponse{
		UID:                u.UID,
		Login:              u.Login,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		PublicKey:          u.PublicKey,
		MoodCiphertext:     u.MoodCipher,
		LocationCiphertext: u.LocationCipher,
		Paired:             p.Paired(),
		ChatID:             p.ChatID,
	}
	if u.PairCode != nil {
		resp.PairCode = *u.PairCode
	}
	if p.Partner != nil {
		resp.Partner = &partnerView{
			UID:                p.Partner.UID,
			FirstName:          p.Partner.FirstName,
			LastName:           p.Partner.LastName,
			PublicKey:          p.Partner.PublicKey,
			MoodCiphertext:     p.Partner.MoodCipher,
			LocationCiphertext: p.Partner.LocationCipher,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateProfileRequest struct {
	FirstName          *string `json:"firstName"`
	LastName           *string `json:"lastName"`
	MoodCiphertext     *string `json:"moodCiphertext"`
	LocationCiphertext *string `json:"locationCiphertext"`
	PushToken          *string `json:"pushToken"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	err := h.UserService.UpdateProfile(r.Context(), uid, service.ProfileUpdate{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		MoodCipher:     req.MoodCiphertext,
		LocationCipher: req.LocationCiphertext,
		PushToken:      req.PushToken,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publishKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

func (h *UserHandler) PublishKey(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r, h.Logger)
	if !ok {
		return
	}
	var req publishKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if err := h.UserService.PublishKey(r.Context(), uid, req.PublicKey); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout снимает cookie; сессионную блокировку клиент освобождает отдельно.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearLoginCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
