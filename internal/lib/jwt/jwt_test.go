package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	secretKey := "test_secret_key_1234567890"
	tokenTTL := 15 * time.Minute
	maker := NewJWTMaker(secretKey, tokenTTL)

	tests := []struct {
		name    string
		subject string
		role    string
	}{
		{name: "admin token", subject: "ops", role: "admin"},
		{name: "bot token", subject: "telegram-bot", role: "service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := maker.GenerateToken(tt.subject, tt.role)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			claims, err := maker.ParseToken(token)
			require.NoError(t, err)

			assert.Equal(t, tt.subject, claims.Subject)
			assert.Equal(t, tt.role, claims.Role)
			assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, time.Second)
		})
	}
}

func TestJWTMaker_ParseToken_InvalidTokens(t *testing.T) {
	maker := NewJWTMaker("test_secret_key_1234567890", 15*time.Minute)

	validToken, err := maker.GenerateToken("ops", "admin")
	require.NoError(t, err)

	expiredMaker := NewJWTMaker("test_secret_key_1234567890", -time.Hour)
	expiredToken, err := expiredMaker.GenerateToken("ops", "admin")
	require.NoError(t, err)

	wrongKeyMaker := NewJWTMaker("wrong_secret_key", 15*time.Minute)
	wrongKeyToken, err := wrongKeyMaker.GenerateToken("ops", "admin")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "expired token", token: expiredToken},
		{name: "wrong secret key", token: wrongKeyToken},
		{name: "tampered token", token: validToken + "tampered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}
