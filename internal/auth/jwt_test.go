package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/auth"
)

func newTestService() *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-signing-key-for-tests-only",
	})
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := newTestService()

	token, expiresAt, err := svc.GenerateAccessToken("op-123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(auth.AccessTokenExpiry), expiresAt, 5*time.Second)

	operatorID, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-123", operatorID)
}

func TestValidateAccessToken_Invalid(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "malformed segments", token: "aaa.bbb.ccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestValidateAccessToken_WrongSigningKey(t *testing.T) {
	svc := newTestService()
	other := auth.NewJWTService(auth.JWTConfig{SigningKey: "a-different-key"})

	token, _, err := svc.GenerateAccessToken("op-123")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestValidateAccessToken_WrongIssuer(t *testing.T) {
	svc := newTestService()
	other := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-signing-key-for-tests-only",
		Issuer:     "https://someone-else.example.com",
	})

	token, _, err := other.GenerateAccessToken("op-123")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestValidateAccessToken_WrongAudience(t *testing.T) {
	svc := newTestService()
	other := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-signing-key-for-tests-only",
		Audience:   "some-other-service",
	})

	token, _, err := other.GenerateAccessToken("op-123")
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}
