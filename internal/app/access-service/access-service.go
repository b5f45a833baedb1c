package accessservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/arstanbekov/wireguard-access/internal/cache"
	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/ipam"
	"github.com/arstanbekov/wireguard-access/internal/lib/jwt"
	"github.com/arstanbekov/wireguard-access/internal/migrations"
	"github.com/arstanbekov/wireguard-access/internal/paymentprovider"
	accessservice "github.com/arstanbekov/wireguard-access/internal/services/access"
	paymentservice "github.com/arstanbekov/wireguard-access/internal/services/payment"
	"github.com/arstanbekov/wireguard-access/internal/storage/repository"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer/local"
	"github.com/arstanbekov/wireguard-access/internal/wgpeer/wgeasy"
)

type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	peers, err := newPeerManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	allocator, err := ipam.NewAllocator(cfg.WireGuard.ClientNetwork)
	if err != nil {
		return nil, err
	}
	reconciler := ipam.NewReconciler(db, peers, logger)

	access := accessservice.New(db, reconciler, allocator, peers, cacheRedis, logger,
		cfg.Access.TrialTTL, cfg.Access.SubscriptionDays)

	freekassa := paymentprovider.NewFreekassa(
		cfg.Payments.FreekassaShopID,
		cfg.Payments.FreekassaSecretKey1,
		cfg.Payments.FreekassaSecretKey2,
		cfg.Payments.PriceRUB,
	)
	cryptocloud := paymentprovider.NewCryptoCloud(
		cfg.Payments.CryptoCloudToken,
		cfg.Payments.CryptoCloudShopID,
		cfg.Payments.WebhookURL,
		cfg.Payments.PriceUSD,
	)
	payments := paymentservice.New(db, access, freekassa, cryptocloud, logger)

	jwtMaker := jwt.NewJWTMaker(cfg.AdminToken.JWTSecretKey, cfg.AdminToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, access, payments, jwtMaker)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
	}, nil
}

func newPeerManager(cfg *config.Config, logger *slog.Logger) (wgpeer.Manager, error) {
	switch cfg.WireGuard.Backend {
	case "local":
		return local.New(cfg.WireGuard, logger), nil
	case "wgeasy":
		return wgeasy.New(cfg.WGEasy, logger), nil
	default:
		return nil, fmt.Errorf("unknown wireguard backend: %q", cfg.WireGuard.Backend)
	}
}

func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.db.DB.Close()
		return err
	}
}
