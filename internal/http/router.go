package http

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/http/handlers"
	"github.com/nika/server/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health   *handlers.HealthHandler
	Auth     *handlers.AuthHandler
	Payments *handlers.PaymentsHandler
	WS       *handlers.WSHandler
}

// NewRouter creates a new HTTP router with all routes configured. ctx bounds
// the rate limiter's background cleanup.
func NewRouter(ctx context.Context, h Handlers, authService *auth.AuthService, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)
	r.Post("/payments/notify", h.Payments.HandleNotify)

	// 2 rps with bursts of 20 per client IP
	limiter := middleware.NewRateLimiter(ctx, 2, 20)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(limiter, middleware.GetIPKey))
		r.Use(chimw.Timeout(15 * time.Second))

		r.Post("/auth/refresh", h.Auth.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))
			r.Get("/me", h.Auth.HandleMe)
		})
	})

	r.With(middleware.RateLimitMiddleware(limiter, middleware.GetIPKey)).Get("/ws", h.WS.ServeHTTP)

	return r
}
