package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// EnsureUser создаёт запись пользователя при первом обращении.
// Повторные вызовы ничего не меняют.
func (s *Storage) EnsureUser(ctx context.Context, userID int64, username, firstName string) error {
	const op = "storage.EnsureUser"

	query := `INSERT INTO users (user_id, username, first_name)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, userID, username, firstName); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает пользователя по его идентификатору.
func (s *Storage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.GetUser"

	query := `SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''),
			      subscription_end, assigned_address, profile, peer_ref
			  FROM users
			  WHERE user_id = $1`
	u := &models.User{}
	row := s.DB.QueryRowContext(ctx, query, userID)

	var subscriptionEnd sql.NullTime
	var address, profile, peerRef sql.NullString
	if err := row.Scan(&u.UserID, &u.Username, &u.FirstName,
		&subscriptionEnd, &address, &profile, &peerRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if subscriptionEnd.Valid {
		u.SubscriptionEnd = &subscriptionEnd.Time
	}
	if address.Valid {
		u.AssignedAddress = &address.String
	}
	if profile.Valid {
		u.Profile = &profile.String
	}
	if peerRef.Valid {
		u.PeerRef = &peerRef.String
	}
	return u, nil
}

// GrantSubscription продлевает подписку пользователя на days дней.
// Если подписка ещё действует, новый срок прибавляется к текущей дате
// окончания, конфиг и адрес не меняются, а renewed = true сообщает
// вызывающей стороне, что переданный пир не понадобился. Если подписки
// нет или она истекла, записываются переданные адрес, конфиг и пир.
func (s *Storage) GrantSubscription(ctx context.Context, userID int64, days int, address, profile, peerRef string) (newEnd time.Time, renewed bool, err error) {
	const op = "storage.GrantSubscription"

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullTime
		row := tx.QueryRowContext(ctx,
			`SELECT subscription_end FROM users WHERE user_id = $1 FOR UPDATE`, userID)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrNotFound
			}
			return err
		}

		now := time.Now()
		start := now
		renewed = current.Valid && current.Time.After(now)
		if renewed {
			start = current.Time
		}
		newEnd = start.AddDate(0, 0, days)

		if renewed {
			// Адрес и конфиг сохраняются, продлевается только срок.
			_, err := tx.ExecContext(ctx,
				`UPDATE users SET subscription_end = $1 WHERE user_id = $2`,
				newEnd, userID)
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE users
			 SET subscription_end = $1, assigned_address = $2, profile = $3, peer_ref = $4
			 WHERE user_id = $5`,
			newEnd, address, profile, peerRef, userID)
		return err
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	return newEnd, renewed, nil
}

// ClearSubscription очищает поля подписки пользователя и возвращает
// идентификатор пира, который держала запись. Строка пользователя
// остаётся для аудита. Если очищать нечего (запись уже забрана
// конкурирующей уборкой), возвращает ok = false.
func (s *Storage) ClearSubscription(ctx context.Context, userID int64) (peerRef string, ok bool, err error) {
	const op = "storage.ClearSubscription"

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var ref sql.NullString
		row := tx.QueryRowContext(ctx,
			`SELECT peer_ref FROM users
			 WHERE user_id = $1 AND peer_ref IS NOT NULL
			 FOR UPDATE`, userID)
		if scanErr := row.Scan(&ref); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return nil
			}
			return scanErr
		}

		_, execErr := tx.ExecContext(ctx,
			`UPDATE users
			 SET subscription_end = NULL, assigned_address = NULL,
			     profile = NULL, peer_ref = NULL
			 WHERE user_id = $1`, userID)
		if execErr != nil {
			return execErr
		}
		peerRef = ref.String
		ok = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	return peerRef, ok, nil
}

// FindExpiredSubscriptions возвращает пользователей, чья подписка истекла,
// но пир ещё не отозван.
func (s *Storage) FindExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error) {
	const op = "storage.FindExpiredSubscriptions"

	query := `SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''),
			      subscription_end, assigned_address, profile, peer_ref
			  FROM users
			  WHERE subscription_end IS NOT NULL
			    AND subscription_end < $1
			    AND peer_ref IS NOT NULL`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		var u models.User
		var subscriptionEnd sql.NullTime
		var address, profile, peerRef sql.NullString
		if err = rows.Scan(&u.UserID, &u.Username, &u.FirstName,
			&subscriptionEnd, &address, &profile, &peerRef); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if subscriptionEnd.Valid {
			u.SubscriptionEnd = &subscriptionEnd.Time
		}
		if address.Valid {
			u.AssignedAddress = &address.String
		}
		if profile.Valid {
			u.Profile = &profile.String
		}
		if peerRef.Valid {
			u.PeerRef = &peerRef.String
		}
		result = append(result, &u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UsedAddresses возвращает адреса, которые по данным хранилища заняты
// пользователями с подпиской или активными пробными конфигами.
func (s *Storage) UsedAddresses(ctx context.Context) ([]string, error) {
	const op = "storage.UsedAddresses"

	query := `SELECT assigned_address FROM users WHERE assigned_address IS NOT NULL
			  UNION
			  SELECT assigned_address FROM trial_grants WHERE active`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []string
	for rows.Next() {
		var addr string
		if err = rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, addr)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
