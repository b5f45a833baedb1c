package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreatePayment(ctx context.Context, p models.Payment) error {
	return m.Called(ctx, p).Error(0)
}
func (m *RepoMock) GetPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

type AccessMock struct{ mock.Mock }

func (m *AccessMock) CompleteOrder(ctx context.Context, orderID string) (*models.GrantResult, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GrantResult), args.Error(1)
}

type FreekassaMock struct{ mock.Mock }

func (m *FreekassaMock) CreatePayment(userID int64) (string, string, float64) {
	args := m.Called(userID)
	return args.String(0), args.String(1), args.Get(2).(float64)
}
func (m *FreekassaMock) VerifyNotification(amount, orderID, sign string) bool {
	return m.Called(amount, orderID, sign).Bool(0)
}

type CryptoCloudMock struct{ mock.Mock }

func (m *CryptoCloudMock) CreatePayment(ctx context.Context, userID int64) (string, string, float64, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.String(1), args.Get(2).(float64), args.Error(3)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestPaymentService_CreateFreekassaPayment(t *testing.T) {
	r := new(RepoMock)
	f := new(FreekassaMock)

	f.On("CreatePayment", int64(42)).Return("https://pay.example/1", "freekassa_42_abc", 150.0).Once()
	r.On("CreatePayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
		return p.OrderID == "freekassa_42_abc" && p.UserID == 42 &&
			p.Gateway == "Freekassa" && p.Status == models.PaymentStatusPending
	})).Return(nil).Once()

	svc := New(r, new(AccessMock), f, new(CryptoCloudMock), newNoopLogger())
	url, orderID, err := svc.CreateFreekassaPayment(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/1", url)
	assert.Equal(t, "freekassa_42_abc", orderID)
	r.AssertExpectations(t)
	f.AssertExpectations(t)
}

func TestPaymentService_HandleFreekassaNotification(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(f *FreekassaMock, a *AccessMock)
		wantErr    bool
	}{
		{
			name: "valid notification completes order",
			setupMocks: func(f *FreekassaMock, a *AccessMock) {
				f.On("VerifyNotification", "150", "order-1", "sign").Return(true).Once()
				a.On("CompleteOrder", mock.Anything, "order-1").
					Return(&models.GrantResult{}, nil).Once()
			},
		},
		{
			name: "invalid signature is rejected",
			setupMocks: func(f *FreekassaMock, _ *AccessMock) {
				f.On("VerifyNotification", "150", "order-1", "sign").Return(false).Once()
			},
			wantErr: true,
		},
		{
			name: "grant failure is propagated",
			setupMocks: func(f *FreekassaMock, a *AccessMock) {
				f.On("VerifyNotification", "150", "order-1", "sign").Return(true).Once()
				a.On("CompleteOrder", mock.Anything, "order-1").
					Return(nil, errors.New("db down")).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := new(FreekassaMock)
			a := new(AccessMock)
			tt.setupMocks(f, a)

			svc := New(new(RepoMock), a, f, new(CryptoCloudMock), newNoopLogger())
			err := svc.HandleFreekassaNotification(context.Background(), "150", "order-1", "sign")

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			f.AssertExpectations(t)
			a.AssertExpectations(t)
		})
	}
}

func TestPaymentService_HandleCryptoCloudNotification(t *testing.T) {
	t.Run("success status completes order", func(t *testing.T) {
		a := new(AccessMock)
		a.On("CompleteOrder", mock.Anything, "order-2").Return(&models.GrantResult{}, nil).Once()

		svc := New(new(RepoMock), a, new(FreekassaMock), new(CryptoCloudMock), newNoopLogger())
		err := svc.HandleCryptoCloudNotification(context.Background(), "success", "order-2")

		require.NoError(t, err)
		a.AssertExpectations(t)
	})

	t.Run("non-success status is ignored", func(t *testing.T) {
		a := new(AccessMock)

		svc := New(new(RepoMock), a, new(FreekassaMock), new(CryptoCloudMock), newNoopLogger())
		err := svc.HandleCryptoCloudNotification(context.Background(), "created", "order-2")

		require.NoError(t, err)
		a.AssertNotCalled(t, "CompleteOrder")
	})
}
