// Package trial реализует HTTP-обработчик выдачи пробного конфига.
//
// Handler принимает идентификатор пользователя, вызывает бизнес-логику
// выдачи пробного доступа и возвращает готовый конфиг WireGuard
// с временем истечения. Повторный запрос при неистёкшем конфиге
// возвращает тот же конфиг.
package trial

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

// Request представляет запрос на выдачу пробного конфига.
type Request struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// Service описывает интерфейс бизнес-логики выдачи пробного доступа.
type Service interface {
	GrantTrial(ctx context.Context, userID int64) (*models.GrantResult, error)
}

// Handler обрабатывает запросы на выдачу пробного конфига.
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
// @Summary Выдать пробный конфиг
// @Description Выдает пользователю временный конфиг WireGuard с фиксированным TTL. Повторный запрос при действующем конфиге идемпотентен.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Конфиг, адрес и время истечения"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "VPN-бэкенд недоступен"
// @Failure 503 {object} response.ErrorResponse "Пул адресов исчерпан"
// @Router /access/trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.trial"

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

	res, err := h.service.GrantTrial(r.Context(), req.UserID)
	if err != nil {
		log.Error("failed to grant trial access", sl.Err(err))
		writeGrantError(w, r, err)
		return
	}

	log.Info("trial access granted", slog.Int64("user_id", req.UserID),
		slog.Bool("is_existing", res.IsExisting))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"profile":     res.Profile,
		"address":     res.Address,
		"expires_at":  res.ExpiresAt,
		"ttl_seconds": int(res.TTL.Seconds()),
		"is_existing": res.IsExisting,
	}))
}

func writeGrantError(w http.ResponseWriter, r *http.Request, err error) {
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
}
