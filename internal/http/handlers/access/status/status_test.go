package status

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

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// MockService реализует интерфейс status.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Status(ctx context.Context, userID int64) (*models.AccessStatus, error) {
	args := m.Called(ctx, userID)
	if res := args.Get(0); res != nil {
		return res.(*models.AccessStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestStatusHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	subEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	addr := "10.10.10.2"

	tests := []struct {
		name           string
		urlParam       string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:     "пользователь с подпиской",
			urlParam: "42",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, int64(42)).Return(&models.AccessStatus{
					UserID:          42,
					SubscriptionEnd: &subEnd,
					AssignedAddress: &addr,
					HasAccess:       true,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"has_access":true`,
		},
		{
			name:     "пользователь без доступа",
			urlParam: "43",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, int64(43)).Return(&models.AccessStatus{
					UserID: 43,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"has_access":false`,
		},
		{
			name:           "некорректный user_id в URL",
			urlParam:       "abc",
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"failed to decode user_id from url"`,
		},
		{
			name:     "ошибка сервиса",
			urlParam: "44",
			setupMock: func(m *MockService) {
				m.On("Status", mock.Anything, int64(44)).Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"could not read access status"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodGet, "/access/status/"+tt.urlParam, nil)
			// Устанавливаем URL params с помощью роутера chi
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("user_id", tt.urlParam)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
