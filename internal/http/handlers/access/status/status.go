// Package status реализует HTTP-обработчик чтения состояния доступа.
//
// Handler извлекает идентификатор пользователя из URL и возвращает
// агрегированное состояние: действующую подписку, пробный конфиг
// и выданный адрес.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Service описывает интерфейс бизнес-логики чтения статуса.
type Service interface {
	Status(ctx context.Context, userID int64) (*models.AccessStatus, error)
}

// Handler обрабатывает запросы на чтение состояния доступа.
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
// @Summary Состояние доступа пользователя
// @Description Возвращает действующую подписку, пробный конфиг и выданный адрес пользователя.
// @Tags Access
// @Produce  json
// @Param user_id path int true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Состояние доступа"
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /access/status/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.status"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		log.Error("failed to decode user_id from url", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode user_id from url"))
		return
	}

	res, err := h.service.Status(r.Context(), userID)
	if err != nil {
		log.Error("failed to read access status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read access status"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(res))
}
