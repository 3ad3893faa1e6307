// Package bootstrap собирает зависимости команд CLI: локальную базу пользователя,
// API-клиент с сохранённым токеном и Messenger.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"Duet/internal/cli/api"
	fsrepo "Duet/internal/cli/repo/fs"
	reposqlite "Duet/internal/cli/repo/sqlite"
	"Duet/internal/cli/service"
	"Duet/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// selfUID - ключ kv с uid вошедшего пользователя.
const selfUID = "self/uid"

// AppVersion - версия клиента, сообщается серверу при захвате сессии. Задаётся из main.
var AppVersion = "dev"

var (
	// ErrNotLoggedIn - нет сохранённого токена или логина.
	ErrNotLoggedIn = errors.New("not logged in: run login or register first")
	// ErrLockedElsewhere - аккаунт активен на другой установке.
	ErrLockedElsewhere = errors.New("account is active on another installation; log out there first")
	// ErrSessionTaken - сессию перехватила другая установка, токен этой установки удалён.
	ErrSessionTaken = errors.New("session was taken over by another installation: log in again")
)

// Session - контекст команды, работающей от имени вошедшего пользователя.
type Session struct {
	Login     string
	UID       string
	Client    *api.Client
	Store     *reposqlite.Store
	Messenger *service.Messenger
	Auth      fsrepo.AuthFSStore
}

// Close закрывает локальную базу.
func (s *Session) Close() error { return s.Store.Close() }

// Logger - логгер CLI: только предупреждения и ошибки, в stderr, чтобы не мешать выводу команд.
func Logger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

// AuthStore - файловое хранилище токена с учётом конфигурации.
func AuthStore(cfg *config.Config) fsrepo.AuthFSStore {
	return fsrepo.AuthFSStore{TokenFile: cfg.TokenFile}
}

// dbBase - каталог баз пользователей: конфиг, затем CLIENT_DB_PATH, затем каталог конфигурации.
func dbBase(cfg *config.Config) (string, error) {
	if cfg.ClientDBPath != "" {
		return cfg.ClientDBPath, nil
	}
	if p := os.Getenv("CLIENT_DB_PATH"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "Duet", "users"), nil
}

// OpenStore открывает базу пользователя login и выполняет миграции.
func OpenStore(cfg *config.Config, login string) (*reposqlite.Store, error) {
	base, err := dbBase(cfg)
	if err != nil {
		return nil, err
	}
	s, _, err := reposqlite.OpenForUser(base, login)
	if err != nil {
		return nil, fmt.Errorf("open user db: %w", err)
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate user db: %w", err)
	}
	return s, nil
}

// Remember сохраняет логин и uid после register/login.
func Remember(cfg *config.Config, login, uid string) error {
	if err := AuthStore(cfg).SaveLogin(login); err != nil {
		return fmt.Errorf("save login: %w", err)
	}
	s, err := OpenStore(cfg, login)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Put(selfUID, uid)
}

// AcquireLock занимает (или продлевает) сессию аккаунта для этой установки.
func AcquireLock(ctx context.Context, cfg *config.Config, c *api.Client) error {
	id, err := AuthStore(cfg).InstallationID()
	if err != nil {
		return fmt.Errorf("installation id: %w", err)
	}
	_, err = c.AcquireSessionLock(ctx, api.LockRequest{
		InstallationID: id,
		Platform:       runtime.GOOS,
		DeviceName:     cfg.DeviceName,
		AppVersion:     AppVersion,
	})
	if api.IsCode(err, api.CodePreconditionFailed) {
		return ErrLockedElsewhere
	}
	return err
}

// refreshLock подтверждает, что сессия всё ещё принадлежит этой установке.
// Если её заняла другая установка, токен удаляется. Недоступность сервера не мешает
// локальным командам: серверные вызовы всё равно вернут ошибку.
func refreshLock(ctx context.Context, cfg *config.Config, auth fsrepo.AuthFSStore, c *api.Client) error {
	err := AcquireLock(ctx, cfg, c)
	var ae *api.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLockedElsewhere):
		if cerr := auth.Clear(); cerr != nil {
			return fmt.Errorf("clear token: %w", cerr)
		}
		return ErrSessionTaken
	case errors.As(err, &ae) && ae.Retryable():
		return nil
	}
	return err
}

// Open восстанавливает сессию по сохранённым токену и логину.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	auth := AuthStore(cfg)
	token, err := auth.Load()
	if err != nil || token == "" {
		return nil, ErrNotLoggedIn
	}
	login, err := auth.LoadLogin()
	if err != nil || login == "" {
		return nil, ErrNotLoggedIn
	}
	store, err := OpenStore(cfg, login)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(cfg.ServerURL, token)
	if err := refreshLock(ctx, cfg, auth, client); err != nil {
		_ = store.Close()
		return nil, err
	}

	uid, ok, err := store.Get(selfUID)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if !ok {
		p, err := client.Profile(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		uid = p.UID
		if err := store.Put(selfUID, uid); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return &Session{
		Login:     login,
		UID:       uid,
		Client:    client,
		Store:     store,
		Messenger: service.NewMessenger(client, store, uid, Logger()),
		Auth:      auth,
	}, nil
}
