// Package payment связывает платёжные системы с автоматом доступа:
// создаёт заказы со статусом pending и обрабатывает уведомления об
// оплате, после которых выдаётся постоянный доступ.
package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// PaymentRepository сохраняет записи о платежах.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p models.Payment) error
	GetPayment(ctx context.Context, orderID string) (*models.Payment, error)
}

// AccessGranter выдаёт доступ после подтверждения оплаты.
type AccessGranter interface {
	CompleteOrder(ctx context.Context, orderID string) (*models.GrantResult, error)
}

// FreekassaProvider формирует платёжные ссылки Freekassa и проверяет
// подписи уведомлений.
type FreekassaProvider interface {
	CreatePayment(userID int64) (paymentURL, orderID string, amount float64)
	VerifyNotification(amount, orderID, sign string) bool
}

// CryptoCloudProvider выставляет криптовалютные инвойсы.
type CryptoCloudProvider interface {
	CreatePayment(ctx context.Context, userID int64) (paymentURL, orderID string, amount float64, err error)
}

type PaymentService struct {
	repo        PaymentRepository
	access      AccessGranter
	freekassa   FreekassaProvider
	cryptocloud CryptoCloudProvider
	log         *slog.Logger
}

func New(repo PaymentRepository, access AccessGranter,
	freekassa FreekassaProvider, cryptocloud CryptoCloudProvider, log *slog.Logger) *PaymentService {
	return &PaymentService{
		repo:        repo,
		access:      access,
		freekassa:   freekassa,
		cryptocloud: cryptocloud,
		log:         log,
	}
}

// CreateFreekassaPayment создаёт заказ и возвращает ссылку на оплату в рублях.
func (s *PaymentService) CreateFreekassaPayment(ctx context.Context, userID int64) (string, string, error) {
	const op = "payment.CreateFreekassaPayment"

	paymentURL, orderID, amount := s.freekassa.CreatePayment(userID)
	err := s.repo.CreatePayment(ctx, models.Payment{
		OrderID:  orderID,
		UserID:   userID,
		Amount:   amount,
		Currency: "RUB",
		Gateway:  "Freekassa",
		Status:   models.PaymentStatusPending,
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("freekassa payment created",
		slog.Int64("user_id", userID), slog.String("order_id", orderID))
	return paymentURL, orderID, nil
}

// CreateCryptoCloudPayment выставляет криптовалютный инвойс и создаёт заказ.
func (s *PaymentService) CreateCryptoCloudPayment(ctx context.Context, userID int64) (string, string, error) {
	const op = "payment.CreateCryptoCloudPayment"

	paymentURL, orderID, amount, err := s.cryptocloud.CreatePayment(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	err = s.repo.CreatePayment(ctx, models.Payment{
		OrderID:  orderID,
		UserID:   userID,
		Amount:   amount,
		Currency: "USD",
		Gateway:  "CryptoCloud",
		Status:   models.PaymentStatusPending,
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("cryptocloud payment created",
		slog.Int64("user_id", userID), slog.String("order_id", orderID))
	return paymentURL, orderID, nil
}

// HandleFreekassaNotification обрабатывает уведомление об оплате.
// Подпись проверяется по значениям из самого уведомления; неверная
// подпись — отказ без обращения к хранилищу.
func (s *PaymentService) HandleFreekassaNotification(ctx context.Context, amount, orderID, sign string) error {
	const op = "payment.HandleFreekassaNotification"

	if !s.freekassa.VerifyNotification(amount, orderID, sign) {
		return fmt.Errorf("%s: order %s: invalid signature", op, orderID)
	}
	if _, err := s.access.CompleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleCryptoCloudNotification обрабатывает вебхук CryptoCloud.
// Принимаются только уведомления со статусом success.
func (s *PaymentService) HandleCryptoCloudNotification(ctx context.Context, status, orderID string) error {
	const op = "payment.HandleCryptoCloudNotification"

	if status != "success" {
		s.log.Info("ignoring non-success cryptocloud notification",
			slog.String("order_id", orderID), slog.String("status", status))
		return nil
	}
	if _, err := s.access.CompleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
