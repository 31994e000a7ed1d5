package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leomail/backend/internal/config"
)

func newTestManager() *Manager {
	return NewManager(config.JWTConfig{
		Secret:       "0123456789abcdef0123456789abcdef",
		Issuer:       "leomail",
		AccessExpiry: 15 * time.Minute,
	})
}

func TestManager_IssueAndValidate(t *testing.T) {
	m := newTestManager()

	token, err := m.Issue("user-1", "anna@example.com", "Anna Berger")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "anna@example.com", claims.Email)
}

func TestManager_ValidateToken_Invalid(t *testing.T) {
	m := newTestManager()

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.ValidateToken("invalid-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签名密钥不同", func(t *testing.T) {
		other := NewManager(config.JWTConfig{Secret: "another-secret-another-secret-xx", Issuer: "leomail", AccessExpiry: time.Minute})
		token, err := other.Issue("user-1", "", "")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签发者不同", func(t *testing.T) {
		other := NewManager(config.JWTConfig{Secret: "0123456789abcdef0123456789abcdef", Issuer: "someone-else", AccessExpiry: time.Minute})
		token, err := other.Issue("user-1", "", "")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("缺少用户", func(t *testing.T) {
		token, err := m.Issue("", "", "")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("不接受 none 算法", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "leomail"}})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestManager_ValidateToken_Expired(t *testing.T) {
	m := newTestManager()
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.Issue("user-1", "", "")
	require.NoError(t, err)

	m.now = func() time.Time { return issued.Add(time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
