// Package freekassawebhook обрабатывает уведомления Freekassa об оплате.
//
// Freekassa шлёт form-encoded POST и ожидает в ответ тело "YES";
// любой другой ответ считается отказом, и уведомление будет повторено.
// Запросы принимаются только с адресов из настроенного списка.
package freekassawebhook

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
)

// Service описывает интерфейс обработки уведомления об оплате.
type Service interface {
	HandleFreekassaNotification(ctx context.Context, amount, orderID, sign string) error
}

// Handler обрабатывает вебхуки Freekassa.
type Handler struct {
	log            *slog.Logger
	service        Service
	allowedIPs     map[string]struct{}
	trustedProxies map[string]struct{}
}

// New создает новый Handler. allowedIPs — адреса серверов Freekassa,
// пустой список отключает проверку. trustedProxies — адреса обратных
// прокси, чей X-Forwarded-For принимается; для остальных отправителей
// заголовок игнорируется, иначе любой клиент мог бы подставить в него
// адрес из списка разрешённых.
func New(log *slog.Logger, service Service, allowedIPs, trustedProxies []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		allowed[ip] = struct{}{}
	}
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, ip := range trustedProxies {
		trusted[ip] = struct{}{}
	}
	return &Handler{
		log:            log,
		service:        service,
		allowedIPs:     allowed,
		trustedProxies: trusted,
	}
}

// ServeHTTP godoc
// @Summary Вебхук Freekassa
// @Description Принимает уведомление об оплате, проверяет подпись и IP отправителя, завершает заказ и выдаёт доступ.
// @Tags Payments
// @Accept  x-www-form-urlencoded
// @Produce  plain
// @Success 200 {string} string "YES"
// @Failure 400 {string} string "NO"
// @Failure 403 {string} string "NO"
// @Router /webhook/freekassa [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.freekassawebhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	clientIP := h.remoteIP(r)
	if len(h.allowedIPs) > 0 {
		if _, ok := h.allowedIPs[clientIP]; !ok {
			log.Error("freekassa webhook from unexpected ip", slog.String("ip", clientIP))
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("NO"))
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		log.Error("failed to parse form", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("NO"))
		return
	}

	orderID := r.FormValue("MERCHANT_ORDER_ID")
	amount := r.FormValue("AMOUNT")
	sign := r.FormValue("SIGN")
	if orderID == "" {
		log.Error("missing MERCHANT_ORDER_ID in notification")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("NO"))
		return
	}

	if err := h.service.HandleFreekassaNotification(r.Context(), amount, orderID, sign); err != nil {
		log.Error("failed to process freekassa notification", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("NO"))
		return
	}

	log.Info("freekassa payment processed", slog.String("order_id", orderID))
	_, _ = w.Write([]byte("YES"))
}

// remoteIP определяет адрес отправителя. X-Forwarded-For учитывается
// только для соединений от доверенного прокси, и берётся из него первый
// адрес — исходный клиент в цепочке.
func (h *Handler) remoteIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}

	if _, trusted := h.trustedProxies[peer]; !trusted {
		return peer
	}
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return peer
	}
	first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	if first == "" {
		return peer
	}
	return first
}
