package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"Duet/internal/apperr"
	"Duet/internal/events"
	"Duet/internal/model"
	"Duet/internal/repo"
	"Duet/internal/timeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	codeAllocationAttempts = 10
	// duplicateScanWindow - сколько последних запросов между парой смотреть при поиске дубликата.
	duplicateScanWindow = 50
)

var pairCodeRe = regexp.MustCompile(`^\d{6}$`)

// Decision - ответ получателя на запрос.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision принимает accept/reject в любом регистре.
func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionAccept:
		return DecisionAccept, nil
	case DecisionReject:
		return DecisionReject, nil
	}
	return "", apperr.ErrInvalidDecision
}

// PairingService ведёт коды связывания и жизненный цикл запросов pair/unpair.
type PairingService struct {
	users   repo.UserRepository
	pairing repo.PairingRepository
	bus     EventBus
	logger  *zap.SugaredLogger

	now     func() time.Time
	newCode func() (string, error)
}

func NewPairingService(users repo.UserRepository, pairing repo.PairingRepository, bus EventBus, logger *zap.SugaredLogger) *PairingService {
	return &PairingService{
		users:   users,
		pairing: pairing,
		bus:     bus,
		logger:  logger,
		now:     utcNow,
		newCode: randomPairCode,
	}
}

func randomPairCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// EnsurePairCode возвращает уже выданный код или выделяет новый.
func (s *PairingService) EnsurePairCode(ctx context.Context, uid string) (string, error) {
	user, err := s.loadUser(ctx, uid, apperr.ErrProfileNotFound)
	if err != nil {
		return "", err
	}
	if user.PairCode != nil && *user.PairCode != "" {
		return *user.PairCode, nil
	}

	for attempt := 0; attempt < codeAllocationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", apperr.Internal("generate pair code", err)
		}
		reserved, err := s.pairing.ReserveCode(ctx, code, uid)
		if errors.Is(err, repo.ErrConflict) {
			// параллельный вызов успел выдать код
			user, err := s.loadUser(ctx, uid, apperr.ErrProfileNotFound)
			if err != nil {
				return "", err
			}
			if user.PairCode != nil {
				return *user.PairCode, nil
			}
			continue
		}
		if err != nil {
			return "", storeErr("reserve pair code", err)
		}
		if reserved {
			return code, nil
		}
		s.logger.Infow("pair code collision", "uid", uid, "attempt", attempt+1)
	}
	return "", apperr.ErrCodeAllocationExhausted
}

// CreatePairRequest создаёт запрос на связывание с владельцем partnerCode.
func (s *PairingService) CreatePairRequest(ctx context.Context, requesterUID, partnerCode string) (*model.RelationshipRequest, error) {
	partnerCode = strings.TrimSpace(partnerCode)
	if !pairCodeRe.MatchString(partnerCode) {
		return nil, apperr.ErrInvalidPairCode
	}

	requester, err := s.loadUser(ctx, requesterUID, apperr.ErrProfileNotFound)
	if err != nil {
		return nil, err
	}
	if requester.HasPartner() {
		return nil, apperr.ErrAlreadyPaired
	}

	targetUID, err := s.pairing.LookupCode(ctx, partnerCode)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrPartnerNotFound
		}
		return nil, storeErr("lookup pair code", err)
	}
	if targetUID == requester.UID {
		return nil, apperr.ErrSelfPairing
	}
	target, err := s.loadUser(ctx, targetUID, apperr.ErrPartnerNotFound)
	if err != nil {
		return nil, err
	}
	if target.HasPartner() {
		return nil, apperr.ErrPartnerAlreadyPaired
	}

	now := s.now()
	if err := s.checkDuplicate(ctx, model.RequestPair, requester.UID, target.UID, now); err != nil {
		return nil, err
	}

	fromCode := ""
	if requester.PairCode != nil {
		fromCode = *requester.PairCode
	} else if code, err := s.EnsurePairCode(ctx, requester.UID); err == nil {
		fromCode = code
	}

	req := s.newRequest(model.RequestPair, requester, target.UID, now)
	req.FromCode = fromCode
	if err := s.pairing.CreateRequest(ctx, req); err != nil {
		return nil, storeErr("create request", err)
	}
	s.logger.Infow("pair request created", "request_id", req.ID, "from", req.FromUID, "to", req.ToUID)
	return req, nil
}

// RespondPairRequest принимает или отклоняет запрос на связывание.
func (s *PairingService) RespondPairRequest(ctx context.Context, responderUID, requestID, decision string) (*model.RelationshipRequest, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	now := s.now()
	req, err := s.pendingRequestFor(ctx, responderUID, requestID, model.RequestPair, now)
	if err != nil {
		return nil, err
	}

	if d == DecisionReject {
		return s.reject(ctx, req, now)
	}

	// обе стороны должны быть свободны на момент принятия
	if err := s.pairing.ApplyPairing(ctx, req, now); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			s.logger.Infow("pair accept lost race", "request_id", req.ID)
			return nil, apperr.ErrAlreadyPaired
		}
		return nil, storeErr("apply pairing", err)
	}
	markResolved(req, model.StatusAccepted, now)
	s.logger.Infow("pair request accepted", "request_id", req.ID, "chat_id", timeline.ChatID(req.FromUID, req.ToUID))
	return req, nil
}

// CreateUnpairRequest предлагает партнёру разорвать пару.
func (s *PairingService) CreateUnpairRequest(ctx context.Context, requesterUID string) (*model.RelationshipRequest, error) {
	requester, err := s.loadUser(ctx, requesterUID, apperr.ErrProfileNotFound)
	if err != nil {
		return nil, err
	}
	if !requester.HasPartner() {
		return nil, apperr.ErrNotPaired
	}
	partner, err := s.loadUser(ctx, *requester.PartnerUID, apperr.ErrNotPaired)
	if err != nil {
		return nil, err
	}
	if !model.IsMutual(requester, partner) {
		return nil, apperr.ErrNotPaired
	}

	now := s.now()
	if err := s.checkDuplicate(ctx, model.RequestUnpair, requester.UID, partner.UID, now); err != nil {
		return nil, err
	}

	req := s.newRequest(model.RequestUnpair, requester, partner.UID, now)
	if requester.PairCode != nil {
		req.FromCode = *requester.PairCode
	}
	if err := s.pairing.CreateRequest(ctx, req); err != nil {
		return nil, storeErr("create request", err)
	}
	s.logger.Infow("unpair request created", "request_id", req.ID, "from", req.FromUID, "to", req.ToUID)
	return req, nil
}

// RespondUnpairRequest принимает или отклоняет разрыв пары. При принятии
// данные беседы удаляются, а живые подписки получают access.revoked.
func (s *PairingService) RespondUnpairRequest(ctx context.Context, responderUID, requestID, decision string) (*model.RelationshipRequest, error) {
	d, err := ParseDecision(decision)
	if err != nil {
		return nil, err
	}
	now := s.now()
	req, err := s.pendingRequestFor(ctx, responderUID, requestID, model.RequestUnpair, now)
	if err != nil {
		return nil, err
	}

	if d == DecisionReject {
		return s.reject(ctx, req, now)
	}

	removed, err := s.pairing.ApplyUnpairing(ctx, req, now)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, apperr.ErrNotPaired
		}
		return nil, storeErr("apply unpairing", err)
	}
	markResolved(req, model.StatusAccepted, now)

	chatID := timeline.ChatID(req.FromUID, req.ToUID)
	for _, id := range removed {
		s.bus.Publish(ctx, events.Event{Kind: events.KindReceiptRemove, ChatID: chatID, MessageID: id})
	}
	// revoked последним: после него потоки закрываются
	s.bus.Publish(ctx, events.Event{Kind: events.KindAccessRevoked, ChatID: chatID})
	s.logger.Infow("unpair request accepted", "request_id", req.ID, "chat_id", chatID)
	return req, nil
}

// ListRequests - живые входящие и исходящие запросы пользователя.
func (s *PairingService) ListRequests(ctx context.Context, uid string) (incoming, outgoing []model.RelationshipRequest, err error) {
	rows, err := s.pairing.ListPendingFor(ctx, uid)
	if err != nil {
		return nil, nil, storeErr("list requests", err)
	}
	now := s.now()
	incoming = []model.RelationshipRequest{}
	outgoing = []model.RelationshipRequest{}
	for _, r := range rows {
		if r.Expired(now) {
			continue
		}
		if r.ToUID == uid {
			incoming = append(incoming, r)
		} else {
			outgoing = append(outgoing, r)
		}
	}
	return incoming, outgoing, nil
}

// ExpireStale помечает просроченные pending-запросы как expired.
func (s *PairingService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.pairing.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, storeErr("expire requests", err)
	}
	return n, nil
}

func (s *PairingService) newRequest(typ model.RequestType, from *model.User, toUID string, now time.Time) *model.RelationshipRequest {
	return &model.RelationshipRequest{
		ID:        uuid.NewString(),
		Type:      typ,
		Status:    model.StatusPending,
		FromUID:   from.UID,
		ToUID:     toUID,
		FromName:  from.DisplayName(),
		CreatedAt: now,
		ExpiresAt: now.Add(model.RequestTTL),
	}
}

func (s *PairingService) checkDuplicate(ctx context.Context, typ model.RequestType, a, b string, now time.Time) error {
	recent, err := s.pairing.RecentBetween(ctx, typ, a, b, duplicateScanWindow)
	if err != nil {
		return storeErr("scan requests", err)
	}
	for _, r := range recent {
		if r.Status == model.StatusPending && !r.Expired(now) {
			return apperr.ErrDuplicateRequest
		}
	}
	return nil
}

// pendingRequestFor загружает запрос и проверяет, что на него может ответить responder.
// Просроченный запрос переводится в expired.
func (s *PairingService) pendingRequestFor(ctx context.Context, responderUID, requestID string, typ model.RequestType, now time.Time) (*model.RelationshipRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, apperr.ErrRequestNotFound
	}
	req, err := s.pairing.GetRequest(ctx, requestID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrRequestNotFound
		}
		return nil, storeErr("load request", err)
	}
	if req.Type != typ {
		return nil, apperr.ErrRequestTypeMismatch
	}
	if req.IsTerminal() {
		return nil, apperr.ErrRequestNotPending
	}
	if req.ToUID != responderUID {
		return nil, apperr.ErrNotRecipient
	}
	if req.Expired(now) {
		if err := s.pairing.Resolve(ctx, req.ID, model.StatusExpired, now); err != nil && !errors.Is(err, repo.ErrConflict) {
			return nil, storeErr("expire request", err)
		}
		return nil, apperr.ErrRequestExpired
	}
	return req, nil
}

func (s *PairingService) reject(ctx context.Context, req *model.RelationshipRequest, now time.Time) (*model.RelationshipRequest, error) {
	if err := s.pairing.Resolve(ctx, req.ID, model.StatusRejected, now); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return nil, apperr.ErrRequestNotPending
		}
		return nil, storeErr("reject request", err)
	}
	markResolved(req, model.StatusRejected, now)
	s.logger.Infow("request rejected", "request_id", req.ID, "type", req.Type)
	return req, nil
}

func (s *PairingService) loadUser(ctx context.Context, uid string, notFound error) (*model.User, error) {
	u, err := s.users.GetByUID(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound
		}
		return nil, storeErr("load user", err)
	}
	return u, nil
}

func markResolved(req *model.RelationshipRequest, status model.RequestStatus, at time.Time) {
	req.Status = status
	req.ResolvedAt = &at
}
