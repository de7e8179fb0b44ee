package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret")
	tenantID := uuid.New()

	token, err := m.GenerateToken(tenantID, "acme", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	tenant, err := m.ResolveTenant(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, tenant.ID)
	assert.Equal(t, "acme", tenant.Name)
}

func TestJWTManager_WrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a").GenerateToken(uuid.New(), "acme", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b").ResolveTenant(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret")
	token, err := m.GenerateToken(uuid.New(), "acme", -time.Minute)
	require.NoError(t, err)

	_, err = m.ResolveTenant(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManager_GarbageToken(t *testing.T) {
	m := NewJWTManager("test-secret")
	for _, tok := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		_, err := m.ResolveTenant(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}

func TestJWTManager_RejectsUnsignedToken(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{TenantID: uuid.NewString()})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret").ResolveTenant(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManager_BadTenantID(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "not-a-uuid",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTManager("test-secret").ResolveTenant(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}
