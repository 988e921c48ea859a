package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/secp/services/syncroom/internal/db/dbtest"
)

const testSecret = "test-secret-0123456789"

func newTestService(t *testing.T) *Service {
	return NewService(dbtest.New(t), testSecret, time.Hour)
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	user, err := s.CreateUser(ctx, "dj", "DJ@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "dj", user.DisplayName)
	assert.False(t, user.IsAnonymous)

	t.Run("duplicate", func(t *testing.T) {
		_, err := s.CreateUser(ctx, "dj", "other@example.com", "correct horse")
		assert.True(t, errors.Is(err, ErrUserExists))
	})

	t.Run("signin", func(t *testing.T) {
		got, err := s.AuthenticateByEmail(ctx, "dj@example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := s.AuthenticateByEmail(ctx, "dj@example.com", "battery staple")
		assert.True(t, errors.Is(err, ErrInvalidCredentials))
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := s.AuthenticateByEmail(ctx, "nobody@example.com", "correct horse")
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

func TestAnonymousUserAndProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	guest, err := s.CreateAnonymousUser(ctx, "  ")
	require.NoError(t, err)
	assert.True(t, guest.IsAnonymous)
	assert.Equal(t, "Guest", guest.DisplayName)

	avatar := "https://example.com/a.png"
	updated, err := s.UpdateProfile(ctx, guest.ID, "Night Owl", &avatar)
	require.NoError(t, err)
	assert.Equal(t, "Night Owl", updated.DisplayName)
	require.NotNil(t, updated.AvatarURL)
	assert.Equal(t, avatar, *updated.AvatarURL)

	_, err = s.GetUserByID(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrUserNotFound))

	_, err = s.UpdateProfile(ctx, uuid.New(), "x", nil)
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestSessionTokens(t *testing.T) {
	s := NewService(nil, testSecret, time.Hour)
	userID := uuid.New()

	token, err := s.GenerateSessionToken(userID)
	require.NoError(t, err)

	got, err := s.ValidateSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	t.Run("other secret", func(t *testing.T) {
		other := NewService(nil, "another-secret-9876543210", time.Hour)
		_, err := other.ValidateSessionToken(token)
		assert.Equal(t, ErrInvalidToken, err)
	})

	t.Run("expired", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}
		old, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = s.ValidateSessionToken(old)
		assert.Equal(t, ErrInvalidToken, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.ValidateSessionToken("userID:random")
		assert.Equal(t, ErrInvalidToken, err)
	})
}
