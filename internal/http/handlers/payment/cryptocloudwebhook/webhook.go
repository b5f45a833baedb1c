// Package cryptocloudwebhook обрабатывает уведомления CryptoCloud об оплате.
// Уведомление приходит JSON-объектом со статусом инвойса и идентификатором
// заказа; принимаются только уведомления со статусом success.
package cryptocloudwebhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
)

// Notification представляет тело вебхука CryptoCloud.
type Notification struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// Service описывает интерфейс обработки уведомления об оплате.
type Service interface {
	HandleCryptoCloudNotification(ctx context.Context, status, orderID string) error
}

// Handler обрабатывает вебхуки CryptoCloud.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Вебхук CryptoCloud
// @Description Принимает уведомление об оплате инвойса, завершает заказ и выдаёт доступ.
// @Tags Payments
// @Accept  json
// @Produce  plain
// @Success 200 {string} string "OK"
// @Failure 400 {string} string "ERROR"
// @Router /webhook/cryptocloud [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.cryptocloudwebhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		log.Error("failed to decode notification", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("ERROR: invalid body"))
		return
	}
	if n.OrderID == "" {
		log.Error("missing order_id in notification")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("ERROR: no order_id"))
		return
	}

	if err := h.service.HandleCryptoCloudNotification(r.Context(), n.Status, n.OrderID); err != nil {
		log.Error("failed to process cryptocloud notification", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("ERROR: internal server error"))
		return
	}

	log.Info("cryptocloud payment processed", slog.String("order_id", n.OrderID))
	_, _ = w.Write([]byte("OK"))
}
