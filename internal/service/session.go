package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"Duet/internal/apperr"
	"Duet/internal/model"
	"Duet/internal/repo"

	"go.uber.org/zap"
)

// LockRequest - метаданные установки, захватывающей сессию.
type LockRequest struct {
	InstallationID string
	Platform       string
	DeviceName     string
	AppVersion     string
}

// SessionService - единственная активная установка на аккаунт. Аренды нет:
// владелец меняется только явными acquire/release.
type SessionService struct {
	locks   repo.SessionLockRepository
	timeout time.Duration
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewSessionService(locks repo.SessionLockRepository, timeout time.Duration, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{locks: locks, timeout: timeout, logger: logger, now: utcNow}
}

// Acquire захватывает или обновляет блокировку. Чужая установка получает ErrLockedElsewhere.
func (s *SessionService) Acquire(ctx context.Context, uid string, in LockRequest) (*model.SessionLock, error) {
	inst := strings.TrimSpace(in.InstallationID)
	if inst == "" {
		return nil, apperr.ErrInvalidInstallationID
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	now := s.now()
	lock, err := s.locks.Acquire(ctx, &model.SessionLock{
		UID:            uid,
		InstallationID: inst,
		Platform:       strings.TrimSpace(in.Platform),
		DeviceName:     strings.TrimSpace(in.DeviceName),
		AppVersion:     strings.TrimSpace(in.AppVersion),
		AcquiredAt:     now,
		UpdatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, repo.ErrLockHeld) {
			s.logger.Infow("session lock held elsewhere", "uid", uid, "installation_id", inst)
			return nil, apperr.ErrLockedElsewhere
		}
		return nil, s.lockErr("acquire session lock", err)
	}
	return lock, nil
}

// Release снимает блокировку. released=false при чужом владельце.
func (s *SessionService) Release(ctx context.Context, uid, installationID string) (bool, repo.ReleaseOutcome, error) {
	inst := strings.TrimSpace(installationID)
	if inst == "" {
		return false, 0, apperr.ErrInvalidInstallationID
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	out, err := s.locks.Release(ctx, uid, inst)
	if err != nil {
		return false, 0, s.lockErr("release session lock", err)
	}
	if out == repo.OwnershipMismatch {
		s.logger.Warnw("session lock release by non-owner", "uid", uid, "installation_id", inst)
	}
	return out != repo.OwnershipMismatch, out, nil
}

func (s *SessionService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SessionService) lockErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(msg+": timed out", err)
	}
	return storeErr(msg, err)
}
