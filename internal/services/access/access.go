// Package access реализует автомат состояний доступа: выдачу пробных
// конфигов, постоянных подписок, отзыв и уборку истёкших грантов.
// Состояния пользователя: NoAccess -> TrialActive -> (TrialExpired |
// PermanentActive), PermanentActive -> PermanentExpired; PermanentActive
// достижим и напрямую из NoAccess. Любой отказ после создания пира,
// но до коммита в хранилище, компенсируется удалением этого пира.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/metrics"
	"github.com/arstanbekov/wireguard-access/internal/models"
	"github.com/arstanbekov/wireguard-access/internal/storage/repository"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer"
)

// Repository определяет методы хранилища, нужные автомату доступа.
type Repository interface {
	EnsureUser(ctx context.Context, userID int64, username, firstName string) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GrantSubscription(ctx context.Context, userID int64, days int, address, profile, peerRef string) (time.Time, bool, error)
	ClearSubscription(ctx context.Context, userID int64) (string, bool, error)
	FindExpiredSubscriptions(ctx context.Context, now time.Time) ([]*models.User, error)
	GetActiveTrial(ctx context.Context, userID int64) (*models.TrialGrant, error)
	CreateTrial(ctx context.Context, grant models.TrialGrant) error
	DeactivateTrial(ctx context.Context, userID int64) (string, bool, error)
	FindExpiredTrials(ctx context.Context, now time.Time) ([]*models.TrialGrant, error)
	CompletePayment(ctx context.Context, orderID string) (int64, bool, error)
}

// UsedAddressSource отдаёт сведённое множество занятых адресов.
type UsedAddressSource interface {
	UsedAddresses(ctx context.Context) (map[string]struct{}, error)
}

// AddressAllocator выбирает свободный адрес по снимку занятых.
type AddressAllocator interface {
	NextFree(used map[string]struct{}) (string, error)
}

// Cache описывает кеш статусов доступа.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует операции автомата доступа.
type Service struct {
	repo       Repository
	reconciler UsedAddressSource
	alloc      AddressAllocator
	peers      wgpeer.Manager
	cache      Cache
	log        *slog.Logger

	trialTTL         time.Duration
	subscriptionDays int
	backendTimeout   time.Duration
}

// New создаёт сервис доступа.
func New(repo Repository, reconciler UsedAddressSource, alloc AddressAllocator,
	peers wgpeer.Manager, cache Cache, log *slog.Logger,
	trialTTL time.Duration, subscriptionDays int) *Service {
	return &Service{
		repo:             repo,
		reconciler:       reconciler,
		alloc:            alloc,
		peers:            peers,
		cache:            cache,
		log:              log,
		trialTTL:         trialTTL,
		subscriptionDays: subscriptionDays,
		backendTimeout:   30 * time.Second,
	}
}

// GrantTrial выдаёт пользователю пробный конфиг. Повторный запрос при
// неистёкшем конфиге идемпотентен: возвращается тот же конфиг и адрес
// с оставшимся временем жизни.
func (s *Service) GrantTrial(ctx context.Context, userID int64) (*models.GrantResult, error) {
	const op = "access.GrantTrial"

	if err := s.repo.EnsureUser(ctx, userID, "", ""); err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	now := time.Now()
	existing, err := s.repo.GetActiveTrial(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if existing != nil && existing.ExpiresAt.After(now) {
		return trialResult(existing, now, true), nil
	}
	if existing != nil {
		// Истёкший, но ещё не убранный конфиг: снимаем его пира,
		// строка деактивируется при вставке нового.
		s.compensateDeletePeer(existing.PeerRef)
	}

	label := fmt.Sprintf("trial_%d_%s", userID, uuid.NewString()[:8])
	peer, err := s.createPeer(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	grant := models.TrialGrant{
		UserID:          userID,
		Profile:         peer.Profile,
		AssignedAddress: peer.Address,
		PeerRef:         peer.Ref,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.trialTTL),
		Active:          true,
	}
	if err := s.repo.CreateTrial(ctx, grant); err != nil {
		// Проигрыш гонки одного пользователя: созданный пир удаляется,
		// возвращается конфиг победителя.
		s.compensateDeletePeer(peer.Ref)
		if repository.IsUniqueViolation(err) {
			winner, getErr := s.repo.GetActiveTrial(ctx, userID)
			if getErr == nil && winner.ExpiresAt.After(time.Now()) {
				s.log.Info("lost trial grant race, returning winner's grant",
					slog.Int64("user_id", userID))
				return trialResult(winner, time.Now(), true), nil
			}
		}
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	s.invalidateStatus(userID)
	metrics.GrantsTotal.WithLabelValues("trial").Inc()
	s.log.Info("trial access granted",
		slog.Int64("user_id", userID), slog.String("address", peer.Address))
	return trialResult(&grant, now, false), nil
}

// GrantPermanent выдаёт или продлевает подписку. Активный пробный конфиг
// предварительно деактивируется — постоянный доступ всегда вытесняет
// пробный. Если подписка ещё действует, срок прибавляется к текущей дате
// окончания, а конфиг и адрес сохраняются.
func (s *Service) GrantPermanent(ctx context.Context, userID int64, days int) (*models.GrantResult, error) {
	const op = "access.GrantPermanent"

	if days <= 0 {
		days = s.subscriptionDays
	}
	if err := s.repo.EnsureUser(ctx, userID, "", ""); err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	if trialRef, ok, err := s.repo.DeactivateTrial(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	} else if ok {
		s.compensateDeletePeer(trialRef)
		s.log.Info("trial superseded by permanent grant", slog.Int64("user_id", userID))
	}

	now := time.Now()
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	if user.HasActiveSubscription(now) && user.Profile != nil {
		// Продление: новый пир не нужен.
		newEnd, _, err := s.repo.GrantSubscription(ctx, userID, days, "", "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
		}
		s.invalidateStatus(userID)
		metrics.GrantsTotal.WithLabelValues("permanent").Inc()
		return &models.GrantResult{
			Profile:    *user.Profile,
			Address:    derefOr(user.AssignedAddress, ""),
			ExpiresAt:  newEnd,
			IsExisting: true,
		}, nil
	}

	if user.PeerRef != nil {
		// Пир истёкшей, но ещё не убранной подписки.
		s.compensateDeletePeer(*user.PeerRef)
	}

	label := fmt.Sprintf("user_%d_%s", userID, uuid.NewString()[:8])
	peer, err := s.createPeer(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}

	newEnd, renewed, err := s.repo.GrantSubscription(ctx, userID, days, peer.Address, peer.Profile, peer.Ref)
	if err != nil {
		s.compensateDeletePeer(peer.Ref)
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if renewed {
		// Конкурирующая выдача успела первой: её пир сохранён в записи,
		// наш лишний.
		s.compensateDeletePeer(peer.Ref)
		user, err = s.repo.GetUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
		}
		s.invalidateStatus(userID)
		metrics.GrantsTotal.WithLabelValues("permanent").Inc()
		return &models.GrantResult{
			Profile:    derefOr(user.Profile, ""),
			Address:    derefOr(user.AssignedAddress, ""),
			ExpiresAt:  newEnd,
			IsExisting: true,
		}, nil
	}

	s.invalidateStatus(userID)
	metrics.GrantsTotal.WithLabelValues("permanent").Inc()
	s.log.Info("permanent access granted", slog.Int64("user_id", userID),
		slog.String("address", peer.Address), slog.Time("expires_at", newEnd))
	return &models.GrantResult{
		Profile:   peer.Profile,
		Address:   peer.Address,
		ExpiresAt: newEnd,
	}, nil
}

// Revoke отзывает доступ пользователя: снимает пиров пробного конфига и
// подписки, очищает поля в хранилище. Отсутствие активных грантов —
// успех, а не ошибка.
func (s *Service) Revoke(ctx context.Context, userID int64) error {
	const op = "access.Revoke"

	trialRef, hadTrial, err := s.repo.DeactivateTrial(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if hadTrial {
		s.compensateDeletePeer(trialRef)
		metrics.RevokesTotal.WithLabelValues("trial").Inc()
	}

	subRef, hadSub, err := s.repo.ClearSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if hadSub {
		s.compensateDeletePeer(subRef)
		metrics.RevokesTotal.WithLabelValues("permanent").Inc()
	}

	s.invalidateStatus(userID)
	if hadTrial || hadSub {
		s.log.Info("access revoked", slog.Int64("user_id", userID))
	}
	return nil
}

// SweepExpired отзывает истёкшие пробные конфиги и подписки. Пир удаляется
// до захвата строки: удаление идемпотентно, поэтому параллельная уборка
// безопасно продублирует его, а захват строки условным UPDATE гарантирует,
// что подсчёт и уведомление случатся ровно один раз. Отказ бэкенда на
// отдельном гранте пропускает его до следующего прохода.
func (s *Service) SweepExpired(ctx context.Context) (*models.SweepResult, error) {
	const op = "access.SweepExpired"

	metrics.SweepRunsTotal.Inc()
	now := time.Now()
	result := &models.SweepResult{}

	trials, err := s.repo.FindExpiredTrials(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, g := range trials {
		if err := s.deletePeerDetached(g.PeerRef); err != nil {
			s.log.Error("sweep: failed to delete trial peer, will retry next pass",
				slog.Int64("user_id", g.UserID), sl.Err(err))
			continue
		}
		if _, ok, err := s.repo.DeactivateTrial(ctx, g.UserID); err != nil {
			s.log.Error("sweep: failed to deactivate trial",
				slog.Int64("user_id", g.UserID), sl.Err(err))
			continue
		} else if !ok {
			// Уже забрана конкурирующей уборкой.
			continue
		}
		s.invalidateStatus(g.UserID)
		metrics.RevokesTotal.WithLabelValues("trial").Inc()
		result.TrialsRevoked++
		result.Events = append(result.Events, models.NotifyEvent{
			UserID:    g.UserID,
			Kind:      models.NotifyTrialExpired,
			ExpiredAt: g.ExpiresAt,
		})
	}

	users, err := s.repo.FindExpiredSubscriptions(ctx, now)
	if err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}
	for _, u := range users {
		if err := s.deletePeerDetached(*u.PeerRef); err != nil {
			s.log.Error("sweep: failed to delete subscription peer, will retry next pass",
				slog.Int64("user_id", u.UserID), sl.Err(err))
			continue
		}
		if _, ok, err := s.repo.ClearSubscription(ctx, u.UserID); err != nil {
			s.log.Error("sweep: failed to clear subscription",
				slog.Int64("user_id", u.UserID), sl.Err(err))
			continue
		} else if !ok {
			continue
		}
		s.invalidateStatus(u.UserID)
		metrics.RevokesTotal.WithLabelValues("permanent").Inc()
		result.SubscriptionsRevoked++
		result.Events = append(result.Events, models.NotifyEvent{
			UserID:    u.UserID,
			Kind:      models.NotifySubscriptionExpired,
			ExpiredAt: *u.SubscriptionEnd,
		})
	}

	if result.TrialsRevoked > 0 || result.SubscriptionsRevoked > 0 {
		s.log.Info("sweep finished",
			slog.Int("trials_revoked", result.TrialsRevoked),
			slog.Int("subscriptions_revoked", result.SubscriptionsRevoked))
	}
	return result, nil
}

// CompleteOrder обрабатывает подтверждение оплаты. Уже завершённый заказ —
// no-op: вебхук или редирект могут прийти повторно, доступ не выдаётся
// дважды.
func (s *Service) CompleteOrder(ctx context.Context, orderID string) (*models.GrantResult, error) {
	const op = "access.CompleteOrder"

	userID, alreadyCompleted, err := s.repo.CompletePayment(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: order %s: %w", op, orderID, err)
	}
	if alreadyCompleted {
		s.log.Info("order already completed, skipping grant", slog.String("order_id", orderID))
		return nil, nil
	}

	result, err := s.GrantPermanent(ctx, userID, s.subscriptionDays)
	if err != nil {
		return nil, fmt.Errorf("%s: order %s: %w", op, orderID, err)
	}
	return result, nil
}

// Status возвращает агрегированное состояние доступа пользователя.
// Чтение идёт через кеш, гранты и отзывы его инвалидируют.
func (s *Service) Status(ctx context.Context, userID int64) (*models.AccessStatus, error) {
	const op = "access.Status"

	var cached models.AccessStatus
	cacheKey := statusKey(userID)
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read status cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	now := time.Now()
	status := &models.AccessStatus{UserID: userID}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if user != nil && user.HasActiveSubscription(now) {
		status.SubscriptionEnd = user.SubscriptionEnd
		status.AssignedAddress = user.AssignedAddress
		status.HasAccess = true
	}

	trial, err := s.repo.GetActiveTrial(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: user %d: %w", op, userID, err)
	}
	if trial != nil && trial.ExpiresAt.After(now) {
		status.TrialExpiresAt = &trial.ExpiresAt
		if status.AssignedAddress == nil {
			status.AssignedAddress = &trial.AssignedAddress
		}
		status.HasAccess = true
	}

	if err := s.cache.Set(cacheKey, status, time.Minute); err != nil {
		s.log.Warn("failed to cache status", slog.String("key", cacheKey), sl.Err(err))
	}
	return status, nil
}

// createPeer выделяет адрес и создаёт пира. Конфликт адресов на бэкенде
// (проигрыш гонки двух выдач за один адрес пула) разрешается одним
// повтором с новым выделением.
func (s *Service) createPeer(ctx context.Context, label string) (*models.Peer, error) {
	peer, err := s.tryCreatePeer(ctx, label)
	if errors.Is(err, models.ErrBackendRejected) {
		s.log.Warn("address collision on backend, retrying allocation",
			slog.String("label", label))
		peer, err = s.tryCreatePeer(ctx, label)
	}
	return peer, err
}

func (s *Service) tryCreatePeer(ctx context.Context, label string) (*models.Peer, error) {
	used, err := s.reconciler.UsedAddresses(ctx)
	if err != nil {
		return nil, err
	}
	address, err := s.alloc.NextFree(used)
	if err != nil {
		if errors.Is(err, models.ErrCapacityExhausted) {
			metrics.CapacityExhaustedTotal.Inc()
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.backendTimeout)
	defer cancel()
	return s.peers.CreatePeer(ctx, label, address)
}

// compensateDeletePeer удаляет пира на собственном контексте: отмена
// исходного запроса не должна оставить пира-сироту. Отказ логируется,
// осиротевший пир доберёт следующая уборка.
func (s *Service) compensateDeletePeer(ref string) {
	if ref == "" {
		return
	}
	if err := s.deletePeerDetached(ref); err != nil {
		s.log.Error("compensating peer delete failed", slog.String("peer_ref", ref), sl.Err(err))
	}
}

func (s *Service) deletePeerDetached(ref string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.backendTimeout)
	defer cancel()
	return s.peers.DeletePeer(ctx, ref)
}

func (s *Service) invalidateStatus(userID int64) {
	if err := s.cache.Invalidate(statusKey(userID)); err != nil {
		s.log.Warn("failed to invalidate status cache", slog.Int64("user_id", userID), sl.Err(err))
	}
}

func statusKey(userID int64) string {
	return fmt.Sprintf("access:status:%d", userID)
}

func trialResult(g *models.TrialGrant, now time.Time, existing bool) *models.GrantResult {
	return &models.GrantResult{
		Profile:    g.Profile,
		Address:    g.AssignedAddress,
		ExpiresAt:  g.ExpiresAt,
		TTL:        g.ExpiresAt.Sub(now),
		IsExisting: existing,
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
