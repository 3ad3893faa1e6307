package config

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Значения по умолчанию.
const (
	DefaultEnvelopeRetention     = 7 * 24 * time.Hour
	DefaultEnvelopeSweepInterval = 6 * time.Hour
	DefaultRequestSweepInterval  = 12 * time.Hour
	DefaultSessionLockTimeout    = 10 * time.Second
	DefaultRateLimitPerMinute    = 120
	DefaultBootstrapWindow       = 80
	DefaultCatchupWindow         = 30
)

type Config struct {
	// Server-side settings
	DatabaseDSN string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisTLS     bool   `env:"REDIS_TLS"`
	PushQueueURL string `env:"PUSH_QUEUE_URL"`
	SQSEndpoint  string `env:"SQS_ENDPOINT"`

	EnvelopeRetention     time.Duration `env:"ENVELOPE_RETENTION"`
	EnvelopeSweepInterval time.Duration `env:"ENVELOPE_SWEEP_INTERVAL"`
	RequestSweepInterval  time.Duration `env:"REQUEST_SWEEP_INTERVAL"`
	SessionLockTimeout    time.Duration `env:"SESSION_LOCK_TIMEOUT"`
	RateLimitPerMinute    int           `env:"RATE_LIMIT_PER_MINUTE"`
	BootstrapWindow       int           `env:"BOOTSTRAP_WINDOW"`
	CatchupWindow         int           `env:"CATCHUP_WINDOW"`

	// Shared settings
	BaseURL     string `env:"BASE_URL"`
	EnableHTTPS bool   `env:"ENABLE_HTTPS"`

	// Client-side settings
	ServerURL    string `env:"-"`
	ClientDBPath string `env:"CLIENT_DB_PATH"`
	TokenFile    string `env:"TOKEN_FILE"`
	DeviceName   string `env:"DEVICE_NAME"`
	Version      bool   `env:"-"` // show client version and exit (flag only)
}

func NewConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	_ = env.Parse(cfg)

	// flags работают ТОЛЬКО если переменные из env не заданы
	// Server flags
	flag.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "строка подключения к БД")
	flag.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "секрет для подписи JWT")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "адрес Redis для ретрансляции событий между инстансами")
	flag.StringVar(&cfg.PushQueueURL, "push-queue", cfg.PushQueueURL, "URL очереди SQS для push-уведомлений")
	flag.DurationVar(&cfg.EnvelopeRetention, "envelope-retention", cfg.EnvelopeRetention, "сколько хранить неподтверждённые конверты")
	flag.IntVar(&cfg.RateLimitPerMinute, "rate-limit", cfg.RateLimitPerMinute, "лимит запросов в минуту на пользователя")
	// Shared/client flags
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of the Duet server (host:port)")
	flag.BoolVar(&cfg.EnableHTTPS, "https", cfg.EnableHTTPS, "enable HTTPS (client: prefer https scheme for BaseURL)")
	// Client flags
	flag.StringVar(&cfg.ClientDBPath, "client-db", cfg.ClientDBPath, "directory with per-user client SQLite DBs")
	flag.StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "path to auth token file (client)")
	flag.StringVar(&cfg.DeviceName, "device", cfg.DeviceName, "device name reported with the session lock")
	flag.BoolVar(&cfg.Version, "version", cfg.Version, "Show client version and exit")

	flag.Parse()

	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "dev-secret-key"
	}
	// validate BaseURL: must be in "address:port" (no scheme, no path). Otherwise use default.
	hostPortRe := regexp.MustCompile(`^[A-Za-z0-9\.\-]+:\d{1,5}$`)
	if !hostPortRe.MatchString(cfg.BaseURL) {
		cfg.BaseURL = "localhost:8081"
	}

	if cfg.EnableHTTPS {
		cfg.ServerURL = "https://" + cfg.BaseURL
	} else {
		cfg.ServerURL = "http://" + cfg.BaseURL
	}

	if cfg.EnvelopeRetention <= 0 {
		cfg.EnvelopeRetention = DefaultEnvelopeRetention
	}
	if cfg.EnvelopeSweepInterval <= 0 {
		cfg.EnvelopeSweepInterval = DefaultEnvelopeSweepInterval
	}
	if cfg.RequestSweepInterval <= 0 {
		cfg.RequestSweepInterval = DefaultRequestSweepInterval
	}
	if cfg.SessionLockTimeout <= 0 {
		cfg.SessionLockTimeout = DefaultSessionLockTimeout
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.BootstrapWindow <= 0 {
		cfg.BootstrapWindow = DefaultBootstrapWindow
	}
	if cfg.CatchupWindow <= 0 {
		cfg.CatchupWindow = DefaultCatchupWindow
	}

	// Fill client defaults if empty
	home, _ := os.UserHomeDir()
	// ClientDBPath - каталог, внутри которого у каждого логина своя база
	if cfg.ClientDBPath == "" {
		cfg.ClientDBPath = filepath.Join(home, ".duet", "users")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(home, ".duet", "auth_token")
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName, _ = os.Hostname()
	}
}
