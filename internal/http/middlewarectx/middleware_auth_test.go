package middlewarectx_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arstanbekov/wireguard-access/internal/http/middlewarectx"
	"github.com/arstanbekov/wireguard-access/internal/lib/jwt"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestAdminMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("test-secret", time.Hour)
	logger := newNoopLogger()

	adminToken, err := maker.GenerateToken("operator", "admin")
	require.NoError(t, err)
	userToken, err := maker.GenerateToken("someone", "user")
	require.NoError(t, err)

	expiredMaker := jwt.NewJWTMaker("test-secret", -time.Hour)
	expiredToken, err := expiredMaker.GenerateToken("operator", "admin")
	require.NoError(t, err)

	foreignMaker := jwt.NewJWTMaker("other-secret", time.Hour)
	foreignToken, err := foreignMaker.GenerateToken("operator", "admin")
	require.NoError(t, err)

	handlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		subject := r.Context().Value(middlewarectx.Subject)
		role := r.Context().Value(middlewarectx.Role)
		assert.Equal(t, "operator", subject)
		assert.Equal(t, "admin", role)
		w.WriteHeader(http.StatusOK)
	})

	middleware := middlewarectx.AdminMiddleware(maker, logger)(nextHandler)

	tests := []struct {
		name           string
		authHeader     string
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "missing Authorization header",
			authHeader:     "",
			wantStatusCode: http.StatusUnauthorized,
			wantCalled:     false,
		},
		{
			name:           "invalid Authorization header prefix",
			authHeader:     "Basic sometoken",
			wantStatusCode: http.StatusUnauthorized,
			wantCalled:     false,
		},
		{
			name:           "garbage token",
			authHeader:     "Bearer not-a-jwt",
			wantStatusCode: http.StatusUnauthorized,
			wantCalled:     false,
		},
		{
			name:           "expired token",
			authHeader:     "Bearer " + expiredToken,
			wantStatusCode: http.StatusUnauthorized,
			wantCalled:     false,
		},
		{
			name:           "token signed with another key",
			authHeader:     "Bearer " + foreignToken,
			wantStatusCode: http.StatusUnauthorized,
			wantCalled:     false,
		},
		{
			name:           "valid token without admin role",
			authHeader:     "Bearer " + userToken,
			wantStatusCode: http.StatusForbidden,
			wantCalled:     false,
		},
		{
			name:           "valid admin token",
			authHeader:     "Bearer " + adminToken,
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled = false

			req := httptest.NewRequest(http.MethodPost, "/access/sweep", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rec := httptest.NewRecorder()

			middleware.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantCalled, handlerCalled)
		})
	}
}
