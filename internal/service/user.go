package service

import (
	"context"
	"encoding/base64"
	"strings"

	"Duet/internal/apperr"
	"Duet/internal/model"
	"Duet/internal/repo"
	"Duet/internal/timeline"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PairCodeAllocator выдаёт пользователю шестизначный код связывания.
type PairCodeAllocator interface {
	EnsurePairCode(ctx context.Context, uid string) (string, error)
}

type UserService struct {
	repo   repo.UserRepository
	codes  PairCodeAllocator
	logger *zap.SugaredLogger
}

func NewUserService(r repo.UserRepository, codes PairCodeAllocator, logger *zap.SugaredLogger) *UserService {
	return &UserService{repo: r, codes: codes, logger: logger}
}

// Register создаёт пользователя и сразу пытается выделить ему код связывания.
func (s *UserService) Register(ctx context.Context, login, password string) (*model.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperr.InvalidInput("login and password are required")
	}

	_, err := s.repo.GetUserByLogin(ctx, login)
	if err == nil {
		return nil, apperr.ErrLoginTaken
	}
	if !isNotFound(err) {
		return nil, storeErr("lookup login", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	user, err := s.repo.CreateUser(ctx, &model.User{
		UID:      uuid.NewString(),
		Login:    login,
		Password: string(hash),
	})
	if err != nil {
		return nil, storeErr("create user", err)
	}

	// код можно выделить и позже, при чтении профиля
	code, err := s.codes.EnsurePairCode(ctx, user.UID)
	if err != nil {
		s.logger.Warnw("pair code allocation deferred", "uid", user.UID, "error", err)
	} else {
		user.PairCode = &code
	}
	return user, nil
}

// Login проверяет логин и пароль.
func (s *UserService) Login(ctx context.Context, login, password string) (*model.User, error) {
	user, err := s.repo.GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, storeErr("lookup login", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}

// Profile - профиль с проверенной взаимностью пары.
type Profile struct {
	User *model.User
	// Partner заполнен только при взаимной паре.
	Partner *model.User
	ChatID  string
}

func (p *Profile) Paired() bool { return p.Partner != nil }

// Profile читает профиль и заново проверяет взаимность partnerUID.
func (s *UserService) Profile(ctx context.Context, uid string) (*Profile, error) {
	user, err := s.getUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	if user.PairCode == nil || *user.PairCode == "" {
		code, err := s.codes.EnsurePairCode(ctx, uid)
		if err != nil {
			return nil, err
		}
		user.PairCode = &code
	}

	out := &Profile{User: user}
	if !user.HasPartner() {
		return out, nil
	}
	partner, err := s.repo.GetByUID(ctx, *user.PartnerUID)
	if err != nil {
		if isNotFound(err) {
			return out, nil
		}
		return nil, storeErr("load partner", err)
	}
	if model.IsMutual(user, partner) {
		out.Partner = partner
		out.ChatID = timeline.ChatID(user.UID, partner.UID)
	}
	return out, nil
}

// PublishKey сохраняет публичный X25519-ключ установки (base64, 32 байта).
func (s *UserService) PublishKey(ctx context.Context, uid, publicKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(raw) != 32 {
		return apperr.ErrInvalidPublicKey
	}
	return s.update(ctx, uid, map[string]any{"public_key": publicKey})
}

// ProfileUpdate - изменяемые поля профиля; nil означает «не менять».
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	MoodCipher     *string
	LocationCipher *string
	PushToken      *string
}

func (s *UserService) UpdateProfile(ctx context.Context, uid string, upd ProfileUpdate) error {
	updates := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			updates[col] = strings.TrimSpace(*v)
		}
	}
	set("first_name", upd.FirstName)
	set("last_name", upd.LastName)
	set("mood_cipher", upd.MoodCipher)
	set("location_cipher", upd.LocationCipher)
	set("push_token", upd.PushToken)
	if len(updates) == 0 {
		return nil
	}
	return s.update(ctx, uid, updates)
}

func (s *UserService) update(ctx context.Context, uid string, updates map[string]any) error {
	if err := s.repo.UpdateProfile(ctx, uid, updates); err != nil {
		if isNotFound(err) {
			return apperr.ErrProfileNotFound
		}
		return storeErr("update profile", err)
	}
	return nil
}

func (s *UserService) getUser(ctx context.Context, uid string) (*model.User, error) {
	user, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.ErrProfileNotFound
		}
		return nil, storeErr("load profile", err)
	}
	return user, nil
}
