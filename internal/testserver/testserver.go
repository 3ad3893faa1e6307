// Package testserver поднимает настоящий HTTP-сервер Duet поверх sqlite в памяти
// для тестов клиентской части.
package testserver

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Duet/internal/config"
	"Duet/internal/events"
	"Duet/internal/handlers"
	"Duet/internal/middleware"
	"Duet/internal/push"
	"Duet/internal/repo"
	"Duet/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

const Secret = "test-secret"

// Server - запущенный сервер и его сервисы (для проверок в обход HTTP).
type Server struct {
	*httptest.Server
	Messages *service.MessageService
	Pairing  *service.PairingService
}

type options struct {
	limiter *middleware.LimiterStore
}

// Option - настройка тестового сервера.
type Option func(*options)

// WithRateLimit включает лимитер запросов, как в cmd/server.
func WithRateLimit(perMinute, burst int) Option {
	return func(o *options) {
		o.limiter = middleware.NewLimiterStore(perMinute, burst, time.Minute)
	}
}

// New стартует сервер; остановка регистрируется в t.Cleanup.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dial := gormsqlite.Dialector{DriverName: "sqlite", DSN: fmt.Sprintf("file:ts_%s?mode=memory&cache=shared", name)}
	db, err := gorm.Open(dial, &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repo.Migrate(db))

	logger := zap.NewNop().Sugar()
	hub := events.NewHub(logger)
	users := repo.NewUserRepository(db)
	pairing := service.NewPairingService(users, repo.NewPairingRepository(db), hub, logger)
	messages := service.NewMessageService(users, repo.NewMessageRepository(db), hub, push.LogNotifier{Logger: logger}, 80, 30, logger)
	svc := handlers.Services{
		Users:    service.NewUserService(users, pairing, logger),
		Pairing:  pairing,
		Messages: messages,
		Sessions: service.NewSessionService(repo.NewSessionLockRepository(db), time.Second, logger),
	}
	h := handlers.NewHandler(svc, o.limiter, logger, &config.Config{AuthSecret: Secret})
	ts := httptest.NewServer(h.Router)
	t.Cleanup(func() {
		if o.limiter != nil {
			o.limiter.Stop()
		}
		h.Shutdown()
		ts.Close()
		_ = sqlDB.Close()
	})
	return &Server{Server: ts, Messages: messages, Pairing: pairing}
}
