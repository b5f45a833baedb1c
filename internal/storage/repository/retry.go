package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Параметры повтора транзакций при конкурентных конфликтах.
// Все многошаговые переходы автомата доступа идут через withTx,
// чтобы логика повторов не дублировалась по операциям.
const (
	txMaxAttempts  = 4
	txInitialDelay = 50 * time.Millisecond
)

// Коды PostgreSQL, при которых транзакцию имеет смысл повторить.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// IsUniqueViolation сообщает, что запись отвергнута ограничением уникальности.
// Для активных пробных конфигов это проигрыш гонки одного пользователя:
// вызывающая сторона удаляет только что созданного пира и возвращает
// результат победителя, повторять такую транзакцию бессмысленно.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

// withTx выполняет fn в короткой транзакции с ограниченным числом повторов
// и экспоненциальной задержкой. Исчерпание повторов отдаётся как
// models.ErrPersistenceConflict.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const op = "storage.withTx"

	delay := txInitialDelay
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		err = s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceConflict, err)
}

func (s *Storage) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
