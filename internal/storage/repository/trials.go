package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arstanbekov/wireguard-access/internal/models"
)

// GetActiveTrial возвращает активный пробный конфиг пользователя,
// включая уже истёкший по времени, но ещё не убранный уборкой.
// Если активной записи нет — models.ErrNotFound.
func (s *Storage) GetActiveTrial(ctx context.Context, userID int64) (*models.TrialGrant, error) {
	const op = "storage.GetActiveTrial"

	query := `SELECT user_id, profile, assigned_address, peer_ref, created_at, expires_at, active
			  FROM trial_grants
			  WHERE user_id = $1 AND active`
	row := s.DB.QueryRowContext(ctx, query, userID)

	var g models.TrialGrant
	if err := row.Scan(&g.UserID, &g.Profile, &g.AssignedAddress, &g.PeerRef,
		&g.CreatedAt, &g.ExpiresAt, &g.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

// CreateTrial деактивирует прежний пробный конфиг пользователя (если был)
// и вставляет новый одной транзакцией. Гонку двух одновременных выдач
// разрешает частичный уникальный индекс: проигравшая вставка возвращает
// ошибку уникальности, которую вызывающая сторона распознаёт через
// IsUniqueViolation и компенсирует.
func (s *Storage) CreateTrial(ctx context.Context, grant models.TrialGrant) error {
	const op = "storage.CreateTrial"

	err := s.runTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE trial_grants SET active = FALSE WHERE user_id = $1 AND active`,
			grant.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trial_grants (user_id, profile, assigned_address, peer_ref, created_at, expires_at, active)
			 VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
			grant.UserID, grant.Profile, grant.AssignedAddress, grant.PeerRef,
			grant.CreatedAt, grant.ExpiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: user %d: %w", op, grant.UserID, err)
	}
	return nil
}

// DeactivateTrial забирает активный пробный конфиг пользователя:
// помечает его неактивным и возвращает идентификатор пира для удаления
// с бэкенда. Если активной записи нет (или её уже забрала конкурирующая
// уборка), возвращает ok = false — это не ошибка.
func (s *Storage) DeactivateTrial(ctx context.Context, userID int64) (peerRef string, ok bool, err error) {
	const op = "storage.DeactivateTrial"

	row := s.DB.QueryRowContext(ctx,
		`UPDATE trial_grants SET active = FALSE
		 WHERE user_id = $1 AND active
		 RETURNING peer_ref`, userID)
	if scanErr := row.Scan(&peerRef); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: user %d: %w", op, userID, scanErr)
	}
	return peerRef, true, nil
}

// FindExpiredTrials возвращает активные пробные конфиги с истёкшим сроком.
func (s *Storage) FindExpiredTrials(ctx context.Context, now time.Time) ([]*models.TrialGrant, error) {
	const op = "storage.FindExpiredTrials"

	query := `SELECT user_id, profile, assigned_address, peer_ref, created_at, expires_at, active
			  FROM trial_grants
			  WHERE active AND expires_at < $1`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.TrialGrant
	for rows.Next() {
		var g models.TrialGrant
		if err = rows.Scan(&g.UserID, &g.Profile, &g.AssignedAddress, &g.PeerRef,
			&g.CreatedAt, &g.ExpiresAt, &g.Active); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
