// Package middlewarectx содержит HTTP middleware для проверки JWT токенов
// служебных операций.
//
// AdminMiddleware проверяет наличие и валидность JWT токена в заголовке
// Authorization и пропускает запрос дальше только при роли admin.
// Ручки управления грантами (revoke, sweep) вызываются оператором или
// ботом-фронтендом, а не конечными пользователями.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/arstanbekov/wireguard-access/internal/http/response"
	"github.com/arstanbekov/wireguard-access/internal/lib/jwt"
	"github.com/arstanbekov/wireguard-access/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// Subject — ключ для субъекта токена в контексте
	Subject Key = "subject"
	// Role — ключ для роли в контексте
	Role Key = "role"
)

// AdminMiddleware возвращает HTTP middleware, который проверяет JWT
// в заголовке Authorization и требует роль admin.
func AdminMiddleware(maker jwt.Maker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.AdminMiddleware"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := maker.ParseToken(tokenStr)
			if err != nil {
				log.Error("invalid or expired token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}
			if claims.Role != "admin" {
				log.Error("insufficient role", slog.String("role", claims.Role))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("admin role required"))
				return
			}
			ctx := context.WithValue(r.Context(), Subject, claims.Subject)
			ctx = context.WithValue(ctx, Role, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
