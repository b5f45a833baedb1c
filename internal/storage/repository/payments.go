package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// CreatePayment сохраняет новый платёж со статусом pending.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) error {
	const op = "storage.CreatePayment"

	query := `INSERT INTO payments (order_id, user_id, amount, currency, gateway, status)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.DB.ExecContext(ctx, query,
		p.OrderID, p.UserID, p.Amount, p.Currency, p.Gateway, p.Status); err != nil {
		return fmt.Errorf("%s: order %s: %w", op, p.OrderID, err)
	}
	return nil
}

// GetPayment возвращает платёж по идентификатору заказа.
func (s *Storage) GetPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	const op = "storage.GetPayment"

	query := `SELECT order_id, user_id, amount, currency, gateway, status, created_at
			  FROM payments
			  WHERE order_id = $1`
	row := s.DB.QueryRowContext(ctx, query, orderID)

	var p models.Payment
	if err := row.Scan(&p.OrderID, &p.UserID, &p.Amount, &p.Currency,
		&p.Gateway, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: order %s: %w", op, orderID, err)
	}
	return &p, nil
}

// CompletePayment переводит платёж в completed. Единственное разрешённое
// изменение записи — переход pending -> completed; повторное уведомление
// о уже завершённом заказе возвращает alreadyCompleted = true, и выдача
// доступа не повторяется.
func (s *Storage) CompletePayment(ctx context.Context, orderID string) (userID int64, alreadyCompleted bool, err error) {
	const op = "storage.CompletePayment"

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		row := tx.QueryRowContext(ctx,
			`SELECT user_id, status FROM payments WHERE order_id = $1 FOR UPDATE`, orderID)
		if scanErr := row.Scan(&userID, &status); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return models.ErrNotFound
			}
			return scanErr
		}
		if status == models.PaymentStatusCompleted {
			alreadyCompleted = true
			return nil
		}
		_, execErr := tx.ExecContext(ctx,
			`UPDATE payments SET status = $1 WHERE order_id = $2`,
			models.PaymentStatusCompleted, orderID)
		return execErr
	})
	if err != nil {
		return 0, false, fmt.Errorf("%s: order %s: %w", op, orderID, err)
	}
	return userID, alreadyCompleted, nil
}
