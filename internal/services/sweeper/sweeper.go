// Package sweeper периодически отзывает истёкшие гранты доступа и
// публикует события об истечении в очередь уведомлений. События
// потребляет внешний бот-мессенджер, который сообщает пользователям,
// что их конфиг перестал работать.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/arstanbekov/wireguard-access/internal/lib/rabbitmq"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// AccessService выполняет один проход уборки.
type AccessService interface {
	SweepExpired(ctx context.Context) (*models.SweepResult, error)
}

type SweeperService struct {
	access   AccessService
	log      *slog.Logger
	interval time.Duration
}

// NewSweeperService создает новый экземпляр SweeperService.
func NewSweeperService(access AccessService, log *slog.Logger, interval time.Duration) *SweeperService {
	return &SweeperService{
		access:   access,
		log:      log,
		interval: interval,
	}
}

// Run запускает цикл уборки. Первый проход выполняется сразу, дальше —
// по тикеру. Возврат — по отмене контекста.
func (s *SweeperService) Run(ctx context.Context, channel *amqp.Channel) {
	s.runSweep(ctx, channel)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx, channel)
		}
	}
}

func (s *SweeperService) runSweep(ctx context.Context, channel *amqp.Channel) {
	result, err := s.access.SweepExpired(ctx)
	if err != nil {
		s.log.Error("sweep pass failed", sl.Err(err))
		if result == nil {
			return
		}
	}
	if len(result.Events) == 0 {
		return
	}
	s.log.Info("publishing expiry notifications", "count", len(result.Events))
	for _, event := range result.Events {
		// Ключ маршрутизации совпадает с видом события:
		// trial.expired или subscription.expired.
		if err := rabbitmq.PublishMessage(channel, "notifications", event.Kind, event); err != nil {
			s.log.Error("failed to publish message", sl.Err(err))
		}
	}
}
