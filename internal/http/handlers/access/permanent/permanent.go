// Package permanent реализует HTTP-обработчик выдачи постоянной подписки.
//
// Handler вызывается после подтверждённой оплаты либо оператором вручную.
// При действующей подписке срок прибавляется к текущей дате окончания,
// конфиг и адрес сохраняются.
package permanent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
	"github.com/arstanbekov/wireguard-access/internal/models"
)

// Request представляет запрос на выдачу подписки. Days = 0 означает
// срок по умолчанию из конфигурации сервиса.
type Request struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Days   int   `json:"days" validate:"gte=0"`
}

// Service описывает интерфейс бизнес-логики выдачи подписки.
type Service interface {
	GrantPermanent(ctx context.Context, userID int64, days int) (*models.GrantResult, error)
}

// Handler обрабатывает запросы на выдачу подписки.
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
// @Summary Выдать постоянную подписку
// @Description Выдает или продлевает подписку пользователя. Активный пробный конфиг вытесняется, при продлении срок прибавляется к текущей дате окончания.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя и срок в днях"
// @Success 200 {object} response.Response "Конфиг, адрес и дата окончания"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "VPN-бэкенд недоступен"
// @Failure 503 {object} response.ErrorResponse "Пул адресов исчерпан"
// @Router /access/permanent [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.permanent"

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

	res, err := h.service.GrantPermanent(r.Context(), req.UserID, req.Days)
	if err != nil {
		log.Error("failed to grant permanent access", sl.Err(err))
		switch {
		case errors.Is(err, models.ErrCapacityExhausted):
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("address pool exhausted"))
		case errors.Is(err, models.ErrBackendUnavailable):
			w.WriteHeader(http.StatusBadGateway)
			render.JSON(w, r, response.Error("vpn backend unavailable"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not grant access"))
		}
		return
	}

	log.Info("permanent access granted", slog.Int64("user_id", req.UserID),
		slog.Bool("is_existing", res.IsExisting))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"profile":     res.Profile,
		"address":     res.Address,
		"expires_at":  res.ExpiresAt,
		"is_existing": res.IsExisting,
	}))
}
