// Package revoke реализует HTTP-обработчик отзыва доступа пользователя.
package revoke

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
)

// Request представляет запрос на отзыв доступа.
type Request struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// Service описывает интерфейс бизнес-логики отзыва доступа.
type Service interface {
	Revoke(ctx context.Context, userID int64) error
}

// Handler обрабатывает запросы на отзыв доступа.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Отозвать доступ
// @Description Снимает пиров пробного конфига и подписки пользователя и очищает состояние. Отсутствие активных грантов — успех.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Доступ отозван"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет токена"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /access/revoke [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.revoke"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.Revoke(r.Context(), req.UserID); err != nil {
		log.Error("failed to revoke access", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not revoke access"))
		return
	}

	log.Info("access revoked", slog.Int64("user_id", req.UserID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user_id": req.UserID,
	}))
}
