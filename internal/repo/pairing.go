package repo

import (
	"Duet/internal/model"
	"Duet/internal/timeline"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PairingRepository - коды связывания, запросы pair/unpair и атомарные переходы пары.
type PairingRepository interface {
	// ReserveCode занимает код за пользователем. reserved=false - код уже занят.
	// ErrConflict - у пользователя код уже есть.
	ReserveCode(ctx context.Context, code, uid string) (reserved bool, err error)
	// LookupCode возвращает uid владельца кода или gorm.ErrRecordNotFound.
	LookupCode(ctx context.Context, code string) (string, error)

	CreateRequest(ctx context.Context, req *model.RelationshipRequest) error
	GetRequest(ctx context.Context, id string) (*model.RelationshipRequest, error)
	// RecentBetween возвращает не более window последних запросов типа typ между a и b в любом направлении.
	RecentBetween(ctx context.Context, typ model.RequestType, a, b string, window int) ([]model.RelationshipRequest, error)
	// ListPendingFor - ожидающие запросы, где uid отправитель или получатель.
	ListPendingFor(ctx context.Context, uid string) ([]model.RelationshipRequest, error)
	// Resolve переводит pending-запрос в терминальный статус. ErrConflict - запрос уже не pending.
	Resolve(ctx context.Context, id string, status model.RequestStatus, at time.Time) error

	// ApplyPairing одной транзакцией связывает обоих пользователей и принимает запрос.
	ApplyPairing(ctx context.Context, req *model.RelationshipRequest, at time.Time) error
	// ApplyUnpairing одной транзакцией разрывает пару, удаляет данные беседы и принимает запрос.
	// Возвращает id сообщений, чьи квитанции удалены.
	ApplyUnpairing(ctx context.Context, req *model.RelationshipRequest, at time.Time) ([]string, error)

	// ExpirePending помечает просроченные pending-запросы как expired.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type pairingRepo struct {
	db *gorm.DB
}

// NewPairingRepository создаёт реализацию репозитория связывания.
func NewPairingRepository(db *gorm.DB) PairingRepository {
	return &pairingRepo{db: db}
}

func (r *pairingRepo) ReserveCode(ctx context.Context, code, uid string) (bool, error) {
	reserved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.PairCode{Code: code, UID: uid})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		upd := tx.Model(&model.User{}).
			Where("uid = ? AND pair_code IS NULL", uid).
			Update("pair_code", code)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrConflict
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

func (r *pairingRepo) LookupCode(ctx context.Context, code string) (string, error) {
	var pc model.PairCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&pc).Error; err != nil {
		return "", err
	}
	return pc.UID, nil
}

func (r *pairingRepo) CreateRequest(ctx context.Context, req *model.RelationshipRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *pairingRepo) GetRequest(ctx context.Context, id string) (*model.RelationshipRequest, error) {
	var req model.RelationshipRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *pairingRepo) RecentBetween(ctx context.Context, typ model.RequestType, a, b string, window int) ([]model.RelationshipRequest, error) {
	var out []model.RelationshipRequest
	err := r.db.WithContext(ctx).
		Where("type = ?", typ).
		Where("((from_uid = ? AND to_uid = ?) OR (from_uid = ? AND to_uid = ?))", a, b, b, a).
		Order("created_at DESC").
		Limit(window).
		Find(&out).Error
	return out, err
}

func (r *pairingRepo) ListPendingFor(ctx context.Context, uid string) ([]model.RelationshipRequest, error) {
	var out []model.RelationshipRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", model.StatusPending).
		Where("(from_uid = ? OR to_uid = ?)", uid, uid).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *pairingRepo) Resolve(ctx context.Context, id string, status model.RequestStatus, at time.Time) error {
	return resolveTx(r.db.WithContext(ctx), id, status, at)
}

// resolveTx - CAS pending -> status.
func resolveTx(tx *gorm.DB, id string, status model.RequestStatus, at time.Time) error {
	res := tx.Model(&model.RelationshipRequest{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{"status": status, "resolved_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *pairingRepo) ApplyPairing(ctx context.Context, req *model.RelationshipRequest, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range [][2]string{{req.FromUID, req.ToUID}, {req.ToUID, req.FromUID}} {
			res := tx.Model(&model.User{}).
				Where("uid = ? AND (partner_uid IS NULL OR partner_uid = '')", p[0]).
				Update("partner_uid", p[1])
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}
		return resolveTx(tx, req.ID, model.StatusAccepted, at)
	})
}

func (r *pairingRepo) ApplyUnpairing(ctx context.Context, req *model.RelationshipRequest, at time.Time) ([]string, error) {
	chatID := timeline.ChatID(req.FromUID, req.ToUID)
	var removed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range [][2]string{{req.FromUID, req.ToUID}, {req.ToUID, req.FromUID}} {
			res := tx.Model(&model.User{}).
				Where("uid = ? AND partner_uid = ?", p[0], p[1]).
				Update("partner_uid", gorm.Expr("NULL"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
		}
		if err := tx.Model(&model.Receipt{}).Where("chat_id = ?", chatID).
			Order("message_id").Pluck("message_id", &removed).Error; err != nil {
			return err
		}
		// данные беседы удаляются вместе с разрывом пары
		for _, m := range []any{&model.Envelope{}, &model.Receipt{}, &model.Reaction{}, &model.Heartbeat{}} {
			if err := tx.Where("chat_id = ?", chatID).Delete(m).Error; err != nil {
				return err
			}
		}
		return resolveTx(tx, req.ID, model.StatusAccepted, at)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *pairingRepo) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.RelationshipRequest{}).
		Where("status = ? AND expires_at <= ?", model.StatusPending, now).
		Updates(map[string]any{"status": model.StatusExpired, "resolved_at": now})
	return res.RowsAffected, res.Error
}
