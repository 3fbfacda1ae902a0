package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func newTestJWTService() *JWTService {
	return NewJWTService(testSecret, 15*time.Minute)
}

func TestJWTService_IssueToken(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.IssueToken("user-123", "test@example.com")

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
	assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))
}

func TestJWTService_Validate_Valid(t *testing.T) {
	service := newTestJWTService()

	token, _, err := service.IssueToken("user-456", "test@example.com")
	require.NoError(t, err)

	claims, err := service.Validate(token)

	require.NoError(t, err)
	assert.Equal(t, "user-456", claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "user-456", claims.Subject)
}

func TestJWTService_Validate_Expired(t *testing.T) {
	service := newTestJWTService()
	service.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := service.IssueToken("user-1", "")
	require.NoError(t, err)

	_, err = service.Validate(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_Validate_WrongSecret(t *testing.T) {
	token, _, err := NewJWTService("secret-1-secret-1-secret-1-secret", time.Minute).IssueToken("user-1", "")
	require.NoError(t, err)

	_, err = NewJWTService("secret-2-secret-2-secret-2-secret", time.Minute).Validate(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Validate_Garbage(t *testing.T) {
	_, err := newTestJWTService().Validate("not-a-token")

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Validate_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Validate_MissingUserID(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
}
