// Package worker - фоновые задачи сервера.
package worker

import (
	"context"
	"time"

	"Duet/internal/model"
	"Duet/internal/repo"

	"go.uber.org/zap"
)

// RequestExpirer переводит просроченные pending-запросы в expired.
type RequestExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Housekeeper периодически чистит неподтверждённые конверты старше срока хранения
// и просроченные запросы. Квитанции при чистке не создаются.
type Housekeeper struct {
	messages repo.MessageRepository
	requests RequestExpirer
	logger   *zap.SugaredLogger

	retention        time.Duration
	envelopeInterval time.Duration
	requestInterval  time.Duration

	now func() time.Time
}

func NewHousekeeper(messages repo.MessageRepository, requests RequestExpirer, retention, envelopeInterval, requestInterval time.Duration, logger *zap.SugaredLogger) *Housekeeper {
	return &Housekeeper{
		messages:         messages,
		requests:         requests,
		logger:           logger,
		retention:        retention,
		envelopeInterval: envelopeInterval,
		requestInterval:  requestInterval,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет обе чистки сразу и затем по тикерам, пока не отменён ctx.
func (h *Housekeeper) Run(shutdownCtx context.Context) {
	envTicker := time.NewTicker(h.envelopeInterval)
	defer envTicker.Stop()
	reqTicker := time.NewTicker(h.requestInterval)
	defer reqTicker.Stop()

	h.runEnvelopes(shutdownCtx)
	h.runRequests(shutdownCtx)

	for {
		select {
		case <-shutdownCtx.Done():
			h.logger.Infow("housekeeping stopped")
			return
		case <-envTicker.C:
			h.runEnvelopes(shutdownCtx)
		case <-reqTicker.C:
			h.runRequests(shutdownCtx)
		}
	}
}

// SweepEnvelopes удаляет конверты с sentAt раньше now-retention.
func (h *Housekeeper) SweepEnvelopes(ctx context.Context) (int64, error) {
	cutoff := model.UnixMilli(h.now().Add(-h.retention))
	return h.messages.DeleteEnvelopesOlderThan(ctx, cutoff)
}

// SweepRequests помечает истёкшие запросы.
func (h *Housekeeper) SweepRequests(ctx context.Context) (int64, error) {
	return h.requests.ExpireStale(ctx)
}

func (h *Housekeeper) runEnvelopes(ctx context.Context) {
	n, err := h.SweepEnvelopes(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Errorw("envelope sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		h.logger.Infow("envelope sweep", "deleted", n)
	}
}

func (h *Housekeeper) runRequests(ctx context.Context) {
	n, err := h.SweepRequests(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Errorw("request sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		h.logger.Infow("request sweep", "expired", n)
	}
}
