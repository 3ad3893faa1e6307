package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
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

const testSecret = "test-secret"

type testServer struct {
	handler *handlers.Handler
	router  http.Handler
}

type serverOption func(*config.Config, **middleware.LimiterStore)

func withRateLimit(perMinute, burst int) serverOption {
	return func(_ *config.Config, l **middleware.LimiterStore) {
		*l = middleware.NewLimiterStore(perMinute, burst, time.Minute)
	}
}

// newTestServer собирает настоящий роутер поверх sqlite в памяти.
func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dial := gormsqlite.Dialector{DriverName: "sqlite", DSN: fmt.Sprintf("file:h_%s?mode=memory&cache=shared", name)}
	db, err := gorm.Open(dial, &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))

	cfg := &config.Config{AuthSecret: testSecret}
	var limiter *middleware.LimiterStore
	for _, o := range opts {
		o(cfg, &limiter)
	}
	if limiter != nil {
		t.Cleanup(limiter.Stop)
	}

	logger := zap.NewNop().Sugar()
	hub := events.NewHub(logger)
	users := repo.NewUserRepository(db)
	pairing := service.NewPairingService(users, repo.NewPairingRepository(db), hub, logger)
	svc := handlers.Services{
		Users:    service.NewUserService(users, pairing, logger),
		Pairing:  pairing,
		Messages: service.NewMessageService(users, repo.NewMessageRepository(db), hub, push.LogNotifier{Logger: logger}, 80, 30, logger),
		Sessions: service.NewSessionService(repo.NewSessionLockRepository(db), time.Second, logger),
	}
	h := handlers.NewHandler(svc, limiter, logger, cfg)
	t.Cleanup(h.Shutdown)
	return &testServer{handler: h, router: h.Router}
}

func addAuthCookie(t *testing.T, req *http.Request, userID, secret string) {
	t.Helper()
	rr := httptest.NewRecorder()
	require.NoError(t, middleware.SetLoginCookie(rr, userID, secret))
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
}

// do выполняет запрос; пустой uid - анонимно.
func (s *testServer) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		addAuthCookie(t, req, uid, testSecret)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apiError](t, rr).Error.Code
}

type profile struct {
	UID      string `json:"uid"`
	PairCode string `json:"pairCode"`
	Paired   bool   `json:"paired"`
	ChatID   string `json:"chatID"`
	Partner  *struct {
		UID string `json:"uid"`
	} `json:"partner"`
}

func (s *testServer) register(t *testing.T, login string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/user/register", "", map[string]string{"login": login, "password": "pw-" + login})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[profile](t, rr).UID
}

func (s *testServer) profile(t *testing.T, uid string) profile {
	t.Helper()
	rr := s.do(t, http.MethodGet, "/api/user/profile", uid, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[profile](t, rr)
}

type request struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	FromUID string `json:"fromUID"`
}

// pair связывает from и to через запрос и принятие; возвращает chatID.
func (s *testServer) pair(t *testing.T, from, to string) string {
	t.Helper()
	code := s.profile(t, to).PairCode
	rr := s.do(t, http.MethodPost, "/api/pairing/createPairRequest", from, map[string]string{"partnerCode": code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	req := decode[request](t, rr)

	rr = s.do(t, http.MethodPost, "/api/pairing/respondPairRequest", to, map[string]string{"requestID": req.ID, "decision": "accept"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	p := s.profile(t, from)
	require.True(t, p.Paired)
	return p.ChatID
}

type envelope struct {
	ID          string `json:"id"`
	ChatID      string `json:"chatID"`
	SenderID    string `json:"senderID"`
	RecipientID string `json:"recipientID"`
	Ciphertext  string `json:"ciphertext"`
	SentAt      int64  `json:"sentAt"`
}

func (s *testServer) send(t *testing.T, from, chatID, ciphertext string) envelope {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/messages/sendMessage", from, map[string]any{"chatID": chatID, "ciphertext": ciphertext, "keyVersion": 1})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[envelope](t, rr)
}

func (s *testServer) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}
