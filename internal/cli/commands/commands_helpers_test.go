package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"Duet/internal/config"
)

// setConfigDirs направляет каталог конфигурации (токен, логин, id установки)
// и базы пользователей в dir.
func setConfigDirs(t *testing.T, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Setenv("APPDATA", dir)
	} else {
		t.Setenv("XDG_CONFIG_HOME", dir)
	}
	t.Setenv("CLIENT_DB_PATH", filepath.Join(dir, "db"))
}

// withTempConfig - одна временная установка на весь тест.
func withTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	setConfigDirs(t, dir)
	return dir
}

// перехват stdout на время теста
func withStdoutCapture(t *testing.T, fn func()) string {
	t.Helper()
	old := Out
	var buf bytes.Buffer
	Out = &buf
	defer func() { Out = old }()
	fn()
	return buf.String()
}

// installation - отдельная установка клиента: свой каталог конфигурации и баз.
type installation struct {
	dir string
	cfg *config.Config
}

func newInstallation(t *testing.T, serverURL string) *installation {
	t.Helper()
	return &installation{dir: t.TempDir(), cfg: &config.Config{ServerURL: serverURL, DeviceName: "test"}}
}

// run выполняет команду от имени установки и возвращает вывод и код выхода.
func (in *installation) run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	setConfigDirs(t, in.dir)
	var code int
	out := withStdoutCapture(t, func() { code = Dispatch(context.Background(), in.cfg, args) })
	return out, code
}

func (in *installation) must(t *testing.T, args ...string) string {
	t.Helper()
	out, code := in.run(t, args...)
	if code != 0 {
		t.Fatalf("%s: exit %d: %s", strings.Join(args, " "), code, out)
	}
	return out
}

func capture(t *testing.T, re, out string) string {
	t.Helper()
	m := regexp.MustCompile(re).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("%q not found in output: %s", re, out)
	}
	return m[1]
}
