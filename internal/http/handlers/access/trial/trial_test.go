package trial

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// MockService реализует интерфейс trial.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) GrantTrial(ctx context.Context, userID int64) (*models.GrantResult, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*models.GrantResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestTrialHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная выдача пробного конфига",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(42)).Return(&models.GrantResult{
					Profile:   "[Interface]\nPrivateKey = x\n",
					Address:   "10.10.10.2",
					ExpiresAt: time.Now().Add(10 * time.Minute),
					TTL:       10 * time.Minute,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"address":"10.10.10.2"`,
		},
		{
			name: "повторный запрос возвращает прежний конфиг",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(42)).Return(&models.GrantResult{
					Profile:    "[Interface]\nPrivateKey = x\n",
					Address:    "10.10.10.2",
					ExpiresAt:  time.Now().Add(5 * time.Minute),
					TTL:        5 * time.Minute,
					IsExisting: true,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"is_existing":true`,
		},
		{
			name:           "некорректный JSON",
			body:           `{user_id: }`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid request body"`,
		},
		{
			name:           "нулевой идентификатор не проходит валидацию",
			body:           `{"user_id": 0}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"status":"Error"`,
		},
		{
			name: "пул адресов исчерпан",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(42)).Return(nil, models.ErrCapacityExhausted)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `"error":"address pool exhausted"`,
		},
		{
			name: "бэкенд недоступен",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(42)).Return(nil, models.ErrBackendUnavailable)
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `"error":"vpn backend unavailable"`,
		},
		{
			name: "прочая ошибка сервиса",
			body: `{"user_id": 42}`,
			setupMock: func(m *MockService) {
				m.On("GrantTrial", mock.Anything, int64(42)).Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not grant access"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/access/trial", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
