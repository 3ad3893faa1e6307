package repo

import (
	"Duet/internal/model"
	"Duet/internal/timeline"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository - почтовые конверты, квитанции, реакции и heartbeat беседы.
type MessageRepository interface {
	CreateEnvelope(ctx context.Context, env *model.Envelope) error
	// AckEnvelope атомарно превращает конверт в квитанцию и удаляет его.
	// alreadyAcked=true, если конверта уже нет.
	AckEnvelope(ctx context.Context, chatID, messageID, recipientUID string, at time.Time) (receipt *model.Receipt, alreadyAcked bool, err error)
	GetReceipt(ctx context.Context, chatID, messageID string) (*model.Receipt, error)
	// MarkRead ставит read_at, только если он ещё не установлен.
	MarkRead(ctx context.Context, chatID, messageID string, at time.Time) (updated bool, err error)

	UpsertReaction(ctx context.Context, r *model.Reaction) error
	DeleteReaction(ctx context.Context, chatID, messageID, reactorUID string) (bool, error)
	ListReactions(ctx context.Context, chatID, messageID string) ([]model.Reaction, error)

	// LatestEnvelopes - последние limit конвертов по убыванию (sent_at, id).
	LatestEnvelopes(ctx context.Context, chatID string, limit int) ([]model.Envelope, error)
	// EnvelopesBefore - страница назад от курсора (курсор исключается).
	EnvelopesBefore(ctx context.Context, chatID string, cursor timeline.Cursor, limit int) ([]model.Envelope, error)
	// EnvelopesAfter - конверты строго после курсора по возрастанию.
	EnvelopesAfter(ctx context.Context, chatID string, cursor timeline.Cursor, limit int) ([]model.Envelope, error)
	// PendingFor - неподтверждённые конверты, адресованные получателю, по возрастанию.
	PendingFor(ctx context.Context, recipientUID string, limit int) ([]model.Envelope, error)
	LatestReceipts(ctx context.Context, chatID string, limit int) ([]model.Receipt, error)

	CreateHeartbeat(ctx context.Context, hb *model.Heartbeat) error
	// DeleteEnvelopesOlderThan удаляет неподтверждённые конверты с sent_at < cutoff (unix ms).
	DeleteEnvelopesOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

type messageRepo struct {
	db *gorm.DB
}

// NewMessageRepository создаёт реализацию репозитория сообщений.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) CreateEnvelope(ctx context.Context, env *model.Envelope) error {
	return r.db.WithContext(ctx).Create(env).Error
}

func (r *messageRepo) AckEnvelope(ctx context.Context, chatID, messageID, recipientUID string, at time.Time) (*model.Receipt, bool, error) {
	var (
		out     *model.Receipt
		already bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Receipt
		rerr := tx.Where("chat_id = ? AND message_id = ?", chatID, messageID).Take(&existing).Error
		if rerr != nil && !errors.Is(rerr, gorm.ErrRecordNotFound) {
			return rerr
		}
		hasReceipt := rerr == nil

		var env model.Envelope
		err := tx.Where("chat_id = ? AND id = ?", chatID, messageID).Take(&env).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// конверт уже подтверждён (или удалён TTL-чисткой)
			if hasReceipt && existing.RecipientID != recipientUID {
				return ErrNotRecipient
			}
			already = true
			if hasReceipt {
				out = &existing
			}
			return nil
		}
		if err != nil {
			return err
		}
		if env.RecipientID != recipientUID {
			return ErrNotRecipient
		}

		rec := model.Receipt{
			ChatID:      chatID,
			MessageID:   messageID,
			SenderID:    env.SenderID,
			RecipientID: env.RecipientID,
			SentAt:      env.SentAt,
			DeliveredAt: at,
			UpdatedAt:   at,
		}
		if hasReceipt {
			// повторный ack не должен сдвигать уже зафиксированные отметки
			rec.DeliveredAt = existing.DeliveredAt
			rec.ReadAt = existing.ReadAt
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sender_id", "recipient_id", "sent_at", "delivered_at", "read_at", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return err
		}

		del := tx.Where("chat_id = ? AND id = ?", chatID, messageID).Delete(&model.Envelope{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return ErrConflict
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, already, nil
}

func (r *messageRepo) GetReceipt(ctx context.Context, chatID, messageID string) (*model.Receipt, error) {
	var rec model.Receipt
	if err := r.db.WithContext(ctx).Where("chat_id = ? AND message_id = ?", chatID, messageID).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, chatID, messageID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Receipt{}).
		Where("chat_id = ? AND message_id = ? AND read_at IS NULL", chatID, messageID).
		Updates(map[string]any{"read_at": at, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *messageRepo) UpsertReaction(ctx context.Context, rc *model.Reaction) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}, {Name: "reactor_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "key_version", "updated_at"}),
	}).Create(rc).Error
}

func (r *messageRepo) DeleteReaction(ctx context.Context, chatID, messageID, reactorUID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ? AND reactor_uid = ?", chatID, messageID, reactorUID).
		Delete(&model.Reaction{})
	return res.RowsAffected > 0, res.Error
}

func (r *messageRepo) ListReactions(ctx context.Context, chatID, messageID string) ([]model.Reaction, error) {
	var out []model.Reaction
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Order("reactor_uid").
		Find(&out).Error
	return out, err
}

func (r *messageRepo) LatestEnvelopes(ctx context.Context, chatID string, limit int) ([]model.Envelope, error) {
	return r.EnvelopesBefore(ctx, chatID, timeline.Cursor{}, limit)
}

func (r *messageRepo) EnvelopesBefore(ctx context.Context, chatID string, cursor timeline.Cursor, limit int) ([]model.Envelope, error) {
	q := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if !cursor.IsZero() {
		// at-or-before: строка курсора попадает в выборку и исключается в TrimPage
		q = q.Where("(sent_at < ? OR (sent_at = ? AND id <= ?))", cursor.At, cursor.At, cursor.ID)
	}
	var rows []model.Envelope
	if err := q.Order("sent_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, err
	}
	return timeline.TrimPage(rows, cursor, limit), nil
}

func (r *messageRepo) EnvelopesAfter(ctx context.Context, chatID string, cursor timeline.Cursor, limit int) ([]model.Envelope, error) {
	q := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if !cursor.IsZero() {
		q = q.Where("(sent_at > ? OR (sent_at = ? AND id > ?))", cursor.At, cursor.At, cursor.ID)
	}
	var rows []model.Envelope
	err := q.Order("sent_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *messageRepo) PendingFor(ctx context.Context, recipientUID string, limit int) ([]model.Envelope, error) {
	var rows []model.Envelope
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientUID).
		Order("sent_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *messageRepo) LatestReceipts(ctx context.Context, chatID string, limit int) ([]model.Receipt, error) {
	var rows []model.Receipt
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at DESC").Order("message_id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *messageRepo) CreateHeartbeat(ctx context.Context, hb *model.Heartbeat) error {
	return r.db.WithContext(ctx).Create(hb).Error
}

func (r *messageRepo) DeleteEnvelopesOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res := r.db.WithContext(ctx).Where("sent_at < ?", cutoffMs).Delete(&model.Envelope{})
	return res.RowsAffected, res.Error
}
