package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"Duet/internal/cli/repo"

	"github.com/google/uuid"
)

// AuthFSStore - файловое хранилище токена и контекста пользователя для CLI.
// TokenFile переопределяет путь к токену; пустой - файл в каталоге конфигурации.
type AuthFSStore struct {
	TokenFile string
}

var _ repo.AuthStore = AuthFSStore{}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, "Duet")
	if err := os.MkdirAll(p, 0o700); err != nil {
		return "", err
	}
	return p, nil
}

func configFile(name string) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (s AuthFSStore) tokenPath() (string, error) {
	if s.TokenFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.TokenFile), 0o700); err != nil {
			return "", err
		}
		return s.TokenFile, nil
	}
	return configFile("auth_token")
}

// readTrimmed читает файл и обрезает завершающие переводы строки/пробелы.
func readTrimmed(p, what string) (string, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	v := strings.TrimRight(string(b), "\r\n\t ")
	if v == "" {
		return "", errors.New("empty " + what)
	}
	return v, nil
}

// Save сохраняет auth‑токен в файл.
func (s AuthFSStore) Save(token string) error {
	p, err := s.tokenPath()
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token), 0o600)
}

// Load читает auth‑токен из файла.
func (s AuthFSStore) Load() (string, error) {
	p, err := s.tokenPath()
	if err != nil {
		return "", err
	}
	return readTrimmed(p, "token file")
}

// Clear удаляет токен. Отсутствие файла не ошибка.
func (s AuthFSStore) Clear() error {
	p, err := s.tokenPath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SaveLogin сохраняет логин пользователя в файл.
func (AuthFSStore) SaveLogin(login string) error {
	if login == "" {
		return errors.New("empty login")
	}
	p, err := configFile("last_login")
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(login), 0o600)
}

// LoadLogin читает логин пользователя из файла.
func (AuthFSStore) LoadLogin() (string, error) {
	p, err := configFile("last_login")
	if err != nil {
		return "", err
	}
	return readTrimmed(p, "stored login")
}

// InstallationID возвращает постоянный id этой установки, создавая его при первом вызове.
func (AuthFSStore) InstallationID() (string, error) {
	p, err := configFile("installation_id")
	if err != nil {
		return "", err
	}
	if id, err := readTrimmed(p, "installation id"); err == nil {
		return id, nil
	}
	id := uuid.NewString()
	if err := os.WriteFile(p, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
