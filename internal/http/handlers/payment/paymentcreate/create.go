// Package paymentcreate обрабатывает создание платежей. Гейтвей выбирается
// полем запроса: freekassa для оплаты в рублях, cryptocloud — в криптовалюте.
package paymentcreate

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

// Request представляет запрос на создание платежа.
type Request struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	Gateway string `json:"gateway" validate:"required,oneof=freekassa cryptocloud"`
}

// Service определяет интерфейс для работы с платежами.
type Service interface {
	CreateFreekassaPayment(ctx context.Context, userID int64) (paymentURL, orderID string, err error)
	CreateCryptoCloudPayment(ctx context.Context, userID int64) (paymentURL, orderID string, err error)
}

// Handler обрабатывает запросы на создание платежей.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Создать платеж
// @Description Создает заказ со статусом pending и возвращает ссылку на оплату выбранного гейтвея.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор пользователя и гейтвей"
// @Success 200 {object} response.Response "Ссылка на оплату и идентификатор заказа"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка платёжной системы"
// @Router /payments/create [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"

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

	var paymentURL, orderID string
	var err error
	switch req.Gateway {
	case "freekassa":
		paymentURL, orderID, err = h.service.CreateFreekassaPayment(r.Context(), req.UserID)
	case "cryptocloud":
		paymentURL, orderID, err = h.service.CreateCryptoCloudPayment(r.Context(), req.UserID)
	}
	if err != nil {
		log.Error("failed to create payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("payment provider error"))
		return
	}

	log.Info("payment created", slog.Int64("user_id", req.UserID),
		slog.String("gateway", req.Gateway), slog.String("order_id", orderID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"payment_url": paymentURL,
		"order_id":    orderID,
	}))
}
