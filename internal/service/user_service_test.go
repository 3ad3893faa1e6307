package service

import (
	"Duet/internal/apperr"
	"Duet/internal/model"
	"Duet/internal/repo"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// мок для repo.UserRepository
type mockUserRepo struct{ mock.Mock }

func (m *mockUserRepo) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	args := m.Called(ctx, user)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	args := m.Called(ctx, login)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) GetByUID(ctx context.Context, uid string) (*model.User, error) {
	args := m.Called(ctx, uid)
	if u, ok := args.Get(0).(*model.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, uid string, updates map[string]any) error {
	args := m.Called(ctx, uid, updates)
	return args.Error(0)
}

var _ repo.UserRepository = (*mockUserRepo)(nil)

type mockCodes struct{ mock.Mock }

func (m *mockCodes) EnsurePairCode(ctx context.Context, uid string) (string, error) {
	args := m.Called(ctx, uid)
	return args.String(0), args.Error(1)
}

var _ PairCodeAllocator = (*mockCodes)(nil)

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()
	m := new(mockUserRepo)
	codes := new(mockCodes)
	svc := NewUserService(m, codes, zap.NewNop().Sugar())

	t.Run("ok when login free", func(t *testing.T) {
		m.ExpectedCalls = nil
		codes.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "john").Return((*model.User)(nil), gorm.ErrRecordNotFound).Once()
		m.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
			return u.Login == "john" && u.Password != "" && u.Password != "p@ss" && u.UID != ""
		})).Return(&model.User{UID: "u-10", Login: "john"}, nil).Once()
		codes.On("EnsurePairCode", mock.Anything, "u-10").Return("482913", nil).Once()

		user, err := svc.Register(ctx, " john ", "p@ss")
		require.NoError(t, err)
		assert.Equal(t, "u-10", user.UID)
		require.NotNil(t, user.PairCode)
		assert.Equal(t, "482913", *user.PairCode)
		m.AssertExpectations(t)
		codes.AssertExpectations(t)
	})

	t.Run("code allocation failure does not fail registration", func(t *testing.T) {
		m.ExpectedCalls = nil
		codes.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "kate").Return((*model.User)(nil), gorm.ErrRecordNotFound).Once()
		m.On("CreateUser", mock.Anything, mock.Anything).Return(&model.User{UID: "u-11", Login: "kate"}, nil).Once()
		codes.On("EnsurePairCode", mock.Anything, "u-11").Return("", apperr.ErrCodeAllocationExhausted).Once()

		user, err := svc.Register(ctx, "kate", "p@ss")
		require.NoError(t, err)
		assert.Nil(t, user.PairCode)
	})

	t.Run("conflict when login taken", func(t *testing.T) {
		m.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "john").Return(&model.User{UID: "u-1", Login: "john"}, nil).Once()

		user, err := svc.Register(ctx, "john", "p@ss")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, apperr.ErrLoginTaken)
		m.AssertExpectations(t)
	})

	t.Run("empty credentials", func(t *testing.T) {
		_, err := svc.Register(ctx, "  ", "p@ss")
		assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	})

	t.Run("store failure is internal", func(t *testing.T) {
		m.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "bob").Return((*model.User)(nil), errors.New("db down")).Once()

		_, err := svc.Register(ctx, "bob", "p@ss")
		assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	})
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()
	m := new(mockUserRepo)
	svc := NewUserService(m, new(mockCodes), zap.NewNop().Sugar())

	// готовим хеш для пароля "secret"
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)

	t.Run("ok with valid credentials", func(t *testing.T) {
		m.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "alice").Return(&model.User{UID: "u-2", Login: "alice", Password: string(hash)}, nil).Once()

		user, err := svc.Login(ctx, "alice", "secret")
		assert.NoError(t, err)
		assert.Equal(t, "u-2", user.UID)
		m.AssertExpectations(t)
	})

	t.Run("invalid password", func(t *testing.T) {
		m.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "alice").Return(&model.User{UID: "u-2", Login: "alice", Password: string(hash)}, nil).Once()

		user, err := svc.Login(ctx, "alice", "wrong")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
		m.AssertExpectations(t)
	})

	t.Run("unknown login", func(t *testing.T) {
		m.ExpectedCalls = nil
		m.On("GetUserByLogin", mock.Anything, "ghost").Return((*model.User)(nil), gorm.ErrRecordNotFound).Once()

		_, err := svc.Login(ctx, "ghost", "x")
		assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))
	})
}

func TestUserService_PublishKey(t *testing.T) {
	ctx := context.Background()
	m := new(mockUserRepo)
	svc := NewUserService(m, new(mockCodes), zap.NewNop().Sugar())

	key := "AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=" // 32 байта
	m.On("UpdateProfile", mock.Anything, "u1", map[string]any{"public_key": key}).Return(nil).Once()
	require.NoError(t, svc.PublishKey(ctx, "u1", key))
	m.AssertExpectations(t)

	assert.ErrorIs(t, svc.PublishKey(ctx, "u1", "c2hvcnQ="), apperr.ErrInvalidPublicKey)
	assert.ErrorIs(t, svc.PublishKey(ctx, "u1", "%%%"), apperr.ErrInvalidPublicKey)
}

func TestUserService_ProfileChecksMutuality(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.codes("111111", "222222", "333333")
	e.mkUser(t, "a1", "Anna")
	e.mkUser(t, "b1", "Boris")

	p, err := e.users.Profile(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, p.Paired())
	require.NotNil(t, p.User.PairCode)
	assert.Equal(t, "111111", *p.User.PairCode)

	// односторонняя ссылка не считается парой
	require.NoError(t, e.db.Model(&model.User{}).Where("uid = ?", "a1").Update("partner_uid", "b1").Error)
	p, err = e.users.Profile(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, p.Paired())

	require.NoError(t, e.db.Model(&model.User{}).Where("uid = ?", "b1").Update("partner_uid", "a1").Error)
	p, err = e.users.Profile(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, p.Paired())
	assert.Equal(t, "b1", p.Partner.UID)
	assert.Equal(t, "a1_b1", p.ChatID)

	_, err = e.users.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrProfileNotFound)
}

func TestUserService_UpdateProfile(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.mkUser(t, "a1", "")

	first, mood := " Anna ", "bW9vZA=="
	require.NoError(t, e.users.UpdateProfile(ctx, "a1", ProfileUpdate{FirstName: &first, MoodCipher: &mood}))
	u := e.reload(t, "a1")
	assert.Equal(t, "Anna", u.FirstName)
	assert.Equal(t, "bW9vZA==", u.MoodCipher)

	assert.ErrorIs(t, e.users.UpdateProfile(ctx, "ghost", ProfileUpdate{FirstName: &first}), apperr.ErrProfileNotFound)
}
