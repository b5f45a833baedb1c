// Package sweeper содержит сборку процесса уборки истёкших грантов.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/arstanbekov/wireguard-access/internal/cache"
	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/ipam"
	"github.com/arstanbekov/wireguard-access/internal/lib/rabbitmq"
	accessservice "github.com/arstanbekov/wireguard-access/internal/services/access"
	sweeperservice "github.com/arstanbekov/wireguard-access/internal/services/sweeper"
	"github.com/arstanbekov/wireguard-access/internal/storage/repository"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer/local"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer/wgeasy"
)

// App представляет приложение уборки.
type App struct {
	sweeperService *sweeperservice.SweeperService
	conn           *amqp.Connection
	ch             *amqp.Channel
	logger         *slog.Logger
}

func waitForDB(db *repository.Storage) error {
	for range 10 {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения уборки.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	queues := rabbitmq.GetNotificationQueues()
	ch, err := rabbitmq.SetupChannel(conn, queues)
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}

	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	var peers wgpeer.Manager
	switch cfg.WireGuard.Backend {
	case "local":
		peers = local.New(cfg.WireGuard, logger)
	case "wgeasy":
		peers = wgeasy.New(cfg.WGEasy, logger)
	default:
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("unknown wireguard backend: %q", cfg.WireGuard.Backend)
	}

	allocator, err := ipam.NewAllocator(cfg.WireGuard.ClientNetwork)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}
	reconciler := ipam.NewReconciler(db, peers, logger)

	access := accessservice.New(db, reconciler, allocator, peers, cacheRedis, logger,
		cfg.Access.TrialTTL, cfg.Access.SubscriptionDays)
	sweeperService := sweeperservice.NewSweeperService(access, logger, cfg.Access.SweepInterval)

	return &App{
		sweeperService: sweeperService,
		conn:           conn,
		ch:             ch,
		logger:         logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", "error", err)
		}
	}
}

// Run запускает уборку.
func (a *App) Run(ctx context.Context) error {
	go a.sweeperService.Run(ctx, a.ch)

	<-ctx.Done()

	a.logger.Info("shutting down sweeper service")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}

	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}

	return nil
}
