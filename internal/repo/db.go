package repo

import (
	"errors"
	"strings"
	"time"

	"Duet/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var (
	// ErrConflict - условное обновление не затронуло строк: состояние изменилось конкурентно.
	ErrConflict = errors.New("repo: concurrent state change")
	// ErrLockHeld - сессионная блокировка принадлежит другой установке.
	ErrLockHeld = errors.New("repo: session lock held by another installation")
	// ErrNotRecipient - подтверждение от пользователя, которому конверт не адресован.
	ErrNotRecipient = errors.New("repo: caller is not the recipient")
)

const defaultSQLiteDSN = "file:duet.db?_pragma=busy_timeout(5000)"

// zapWriter направляет вывод логгера gorm в zap.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}

// NewGormLogger - логгер gorm поверх zap: медленные запросы и ошибки,
// без промахов ErrRecordNotFound, которые для репозиториев обычный ответ.
func NewGormLogger(log *zap.SugaredLogger) logger.Interface {
	return logger.New(zapWriter{log: log}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// InitDB открывает БД по DSN: postgres для postgres:// и key=value строк, иначе SQLite (modernc),
// и выполняет миграции.
func InitDB(dsn string, log *zap.SugaredLogger) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: NewGormLogger(log)}

	var (
		db  *gorm.DB
		err error
	)
	if isPostgresDSN(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		db, err = gorm.Open(gormsqlite.Dialector{DriverName: "sqlite", DSN: dsn}, cfg)
		if err == nil {
			// SQLite: один писатель, транзакции сериализуются на уровне пула
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate создаёт/обновляет таблицы всех серверных моделей.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
