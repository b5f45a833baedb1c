// Package accessservice предоставляет маршруты и сборку основного приложения.
package accessservice

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/arstanbekov/wireguard-access/internal/config"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/access/permanent"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/access/revoke"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/access/status"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/access/sweep"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/access/trial"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/health"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/payment/cryptocloudwebhook"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/payment/freekassawebhook"
	"github.com/arstanbekov/wireguard-access/internal/http/handlers/payment/paymentcreate"
	"github.com/arstanbekov/wireguard-access/internal/http/middlewarectx"
	"github.com/arstanbekov/wireguard-access/internal/lib/jwt"
	accessservice "github.com/arstanbekov/wireguard-access/internal/services/access"
	paymentservice "github.com/arstanbekov/wireguard-access/internal/services/payment"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	access *accessservice.Service, payments *paymentservice.PaymentService, jwtMaker jwt.Maker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Выдача и чтение: вызывает бот-фронтенд
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/access/trial", trial.New(logger, access).ServeHTTP)
			r.Get("/access/status/{user_id}", status.New(logger, access).ServeHTTP)
			r.Post("/payments/create", paymentcreate.New(logger, payments).ServeHTTP)
		})

		// Служебные операции: требуют admin-токен
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.AdminMiddleware(jwtMaker, logger))
			r.Post("/access/permanent", permanent.New(logger, access).ServeHTTP)
			r.Post("/access/revoke", revoke.New(logger, access).ServeHTTP)
			r.Post("/access/sweep", sweep.New(logger, access).ServeHTTP)
		})
	})

	// Webhook endpoints (без аутентификации, платёжные системы
	// подтверждают себя подписью и IP)
	r.Post("/webhook/freekassa",
		freekassawebhook.New(logger, payments,
			cfg.Payments.FreekassaAllowedIPs, cfg.Payments.TrustedProxies).ServeHTTP)
	r.Post("/webhook/cryptocloud", cryptocloudwebhook.New(logger, payments).ServeHTTP)

	r.Get("/health", health.New().ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
