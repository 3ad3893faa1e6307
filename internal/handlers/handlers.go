package handlers

import (
	"Duet/internal/config"
	"Duet/internal/middleware"
	"Duet/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Services - всё, что нужно роутеру.
type Services struct {
	Users    *service.UserService
	Pairing  *service.PairingService
	Messages *service.MessageService
	Sessions *service.SessionService
}

type Handler struct {
	Router  chi.Router
	streams *StreamHandler
}

// NewHandler разводящий для хендлеров. limiter может быть nil.
func NewHandler(
	svc Services,
	limiter *middleware.LimiterStore,
	logger *zap.SugaredLogger,
	config *config.Config,
) *Handler {
	r := chi.NewRouter()

	r.Use(middleware.WithLogging)
	r.Use(middleware.WithGzip)
	r.Use(middleware.WithAuth(config.AuthSecret))
	if limiter != nil {
		r.Use(middleware.WithRateLimit(limiter))
	}

	// Handlers
	userHandler := NewUserHandler(svc.Users, logger, config)
	pairingHandler := NewPairingHandler(svc.Pairing, logger)
	messageHandler := NewMessageHandler(svc.Messages, logger)
	sessionHandler := NewSessionHandler(svc.Sessions, logger)
	streamHandler := NewStreamHandler(svc.Messages, logger)

	// User routes
	r.Post("/api/user/register", userHandler.Register)
	r.Post("/api/user/login", userHandler.Login)
	r.Post("/api/user/logout", userHandler.Logout)
	r.Get("/api/user/profile", userHandler.Profile)
	r.Post("/api/user/profile", userHandler.UpdateProfile)
	r.Post("/api/user/key", userHandler.PublishKey)

	// Pairing routes
	r.Post("/api/pairing/createPairRequest", pairingHandler.CreatePairRequest)
	r.Post("/api/pairing/respondPairRequest", pairingHandler.RespondPairRequest)
	r.Post("/api/pairing/createUnpairRequest", pairingHandler.CreateUnpairRequest)
	r.Post("/api/pairing/respondUnpairRequest", pairingHandler.RespondUnpairRequest)
	r.Get("/api/pairing/requests", pairingHandler.Requests)

	// Message routes
	r.Post("/api/messages/sendMessage", messageHandler.Send)
	r.Post("/api/messages/ackMessageStored", messageHandler.Ack)
	r.Post("/api/messages/markMessageRead", messageHandler.MarkRead)
	r.Post("/api/messages/setMessageReaction", messageHandler.SetReaction)
	r.Post("/api/messages/clearMessageReaction", messageHandler.ClearReaction)
	r.Get("/api/messages/inbox", messageHandler.Inbox)

	// Chat routes
	r.Route("/api/chats/{chatID}", func(r chi.Router) {
		r.Get("/messages", messageHandler.History)
		r.Post("/heartbeat", messageHandler.Heartbeat)
		r.Get("/stream", streamHandler.Stream)
	})

	// Session routes
	r.Post("/api/session/acquireSessionLock", sessionHandler.Acquire)
	r.Post("/api/session/releaseSessionLock", sessionHandler.Release)

	return &Handler{Router: r, streams: streamHandler}
}

// Shutdown закрывает живые потоки; вызывается перед остановкой http.Server.
func (h *Handler) Shutdown() {
	h.streams.Shutdown()
}
