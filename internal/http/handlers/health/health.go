// Package health реализует HTTP-обработчик проверки живости сервиса.
package health

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
)

// Handler отвечает на проверки живости.
type Handler struct{}

// New создает новый Handler.
func New() *Handler {
	return &Handler{}
}

// ServeHTTP godoc
// @Summary Проверка живости
// @Tags Service
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"service": "wireguard-access",
	}))
}
