// Package sweep реализует HTTP-обработчик ручного запуска уборки
// истёкших грантов. Периодическую уборку ведёт отдельный процесс,
// ручка нужна оператору для немедленного прохода.
package sweep

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Service описывает интерфейс бизнес-логики уборки.
type Service interface {
	SweepExpired(ctx context.Context) (*models.SweepResult, error)
}

// Handler обрабатывает запросы на запуск уборки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Запустить уборку истёкших грантов
// @Description Отзывает все истёкшие пробные конфиги и подписки и возвращает счётчики.
// @Tags Access
// @Produce  json
// @Success 200 {object} response.Response "Счётчики отозванных грантов"
// @Failure 401 {object} response.ErrorResponse "Нет токена"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /access/sweep [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.sweep"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	res, err := h.service.SweepExpired(r.Context())
	if err != nil {
		log.Error("failed to sweep expired grants", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not sweep expired grants"))
		return
	}

	log.Info("sweep finished",
		slog.Int("trials_revoked", res.TrialsRevoked),
		slog.Int("subscriptions_revoked", res.SubscriptionsRevoked))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"trials_revoked":        res.TrialsRevoked,
		"subscriptions_revoked": res.SubscriptionsRevoked,
	}))
}
