package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"Duet/internal/events"
	"Duet/internal/model"
	"Duet/internal/push"
	"Duet/internal/repo"

	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingNotifier запоминает отправленные push-уведомления
type recordingNotifier struct {
	mu   sync.Mutex
	sent []push.Payload
	to   []string
}

func (n *recordingNotifier) Notify(_ context.Context, token string, p push.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.to = append(n.to, token)
	n.sent = append(n.sent, p)
	return nil
}

type testEnv struct {
	db       *gorm.DB
	clock    *fakeClock
	hub      *events.Hub
	notifier *recordingNotifier
	users    *UserService
	pairing  *PairingService
	messages *MessageService
	sessions *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dial := gormsqlite.Dialector{DriverName: "sqlite", DSN: fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite (modernc): %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.Migrate(db); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}

	logger := zap.NewNop().Sugar()
	clock := newFakeClock()
	hub := events.NewHub(logger)
	notifier := &recordingNotifier{}

	userRepo := repo.NewUserRepository(db)
	pairing := NewPairingService(userRepo, repo.NewPairingRepository(db), hub, logger)
	pairing.now = clock.Now
	messages := NewMessageService(userRepo, repo.NewMessageRepository(db), hub, notifier, 80, 30, logger)
	messages.now = clock.Now
	sessions := NewSessionService(repo.NewSessionLockRepository(db), time.Second, logger)
	sessions.now = clock.Now

	return &testEnv{
		db:       db,
		clock:    clock,
		hub:      hub,
		notifier: notifier,
		users:    NewUserService(userRepo, pairing, logger),
		pairing:  pairing,
		messages: messages,
		sessions: sessions,
	}
}

// codes подменяет генератор кодов фиксированной последовательностью
func (e *testEnv) codes(seq ...string) {
	i := 0
	e.pairing.newCode = func() (string, error) {
		c := seq[i%len(seq)]
		i++
		return c, nil
	}
}

func (e *testEnv) mkUser(t *testing.T, uid, first string) *model.User {
	t.Helper()
	u := &model.User{UID: uid, Login: "login-" + uid, Password: "hash", FirstName: first, PushToken: "tok-" + uid}
	if err := e.db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", uid, err)
	}
	return u
}

func (e *testEnv) reload(t *testing.T, uid string) *model.User {
	t.Helper()
	var u model.User
	if err := e.db.Where("uid = ?", uid).Take(&u).Error; err != nil {
		t.Fatalf("reload %s: %v", uid, err)
	}
	return &u
}

// pair связывает двух пользователей через полный цикл запроса
func (e *testEnv) pair(t *testing.T, from, to string) {
	t.Helper()
	ctx := context.Background()
	code, err := e.pairing.EnsurePairCode(ctx, to)
	if err != nil {
		t.Fatalf("ensure code: %v", err)
	}
	req, err := e.pairing.CreatePairRequest(ctx, from, code)
	if err != nil {
		t.Fatalf("create pair request: %v", err)
	}
	if _, err := e.pairing.RespondPairRequest(ctx, to, req.ID, "accept"); err != nil {
		t.Fatalf("accept: %v", err)
	}
}
