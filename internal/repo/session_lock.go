package repo

import (
	"Duet/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReleaseOutcome - результат освобождения сессионной блокировки.
type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota
	AlreadyReleased
	OwnershipMismatch
)

func (o ReleaseOutcome) String() string {
	switch o {
	case Released:
		return "released"
	case AlreadyReleased:
		return "already_released"
	case OwnershipMismatch:
		return "ownership_mismatch"
	}
	return "unknown"
}

// SessionLockRepository - compare-and-set над /sessionLocks/{uid}.
type SessionLockRepository interface {
	// Acquire создаёт блокировку или обновляет свою; ErrLockHeld - владеет другая установка.
	Acquire(ctx context.Context, lock *model.SessionLock) (*model.SessionLock, error)
	Release(ctx context.Context, uid, installationID string) (ReleaseOutcome, error)
	Get(ctx context.Context, uid string) (*model.SessionLock, error)
}

type sessionLockRepo struct {
	db *gorm.DB
}

// NewSessionLockRepository создаёт реализацию репозитория сессионных блокировок.
func NewSessionLockRepository(db *gorm.DB) SessionLockRepository {
	return &sessionLockRepo{db: db}
}

func (r *sessionLockRepo) Acquire(ctx context.Context, lock *model.SessionLock) (*model.SessionLock, error) {
	out := *lock
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.SessionLock
		err := tx.Where("uid = ?", lock.UID).Take(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&out)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// параллельный acquire успел первым
				return ErrLockHeld
			}
			return nil
		case err != nil:
			return err
		case cur.InstallationID != lock.InstallationID:
			return ErrLockHeld
		}

		res := tx.Model(&model.SessionLock{}).
			Where("uid = ? AND installation_id = ?", lock.UID, lock.InstallationID).
			Updates(map[string]any{
				"platform":    lock.Platform,
				"device_name": lock.DeviceName,
				"app_version": lock.AppVersion,
				"updated_at":  lock.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLockHeld
		}
		out.AcquiredAt = cur.AcquiredAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionLockRepo) Release(ctx context.Context, uid, installationID string) (ReleaseOutcome, error) {
	outcome := AlreadyReleased
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("uid = ? AND installation_id = ?", uid, installationID).Delete(&model.SessionLock{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			outcome = Released
			return nil
		}
		var n int64
		if err := tx.Model(&model.SessionLock{}).Where("uid = ?", uid).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			outcome = OwnershipMismatch
		}
		return nil
	})
	return outcome, err
}

func (r *sessionLockRepo) Get(ctx context.Context, uid string) (*model.SessionLock, error) {
	var l model.SessionLock
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).Take(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}
