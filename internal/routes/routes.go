package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/handlers"
	"github.com/tripmesh/tripmesh/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	gateway *auth.Gateway,
) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit())
	refreshLimit := middleware.RateLimitByIP(middleware.DefaultRefreshRateLimit())

	// Public routes - no authentication required
	router.With(authLimit).Post("/auth/register", authHandler.Register)
	router.With(authLimit).Post("/auth/login", authHandler.Login)
	router.With(refreshLimit).Post("/auth/refresh", authHandler.Refresh)

	// Logout reads only the refresh cookie and works even when the access
	// token has already expired
	router.Post("/auth/logout", authHandler.Logout)

	// Protected routes - valid access token required
	router.Group(func(r chi.Router) {
		r.Use(gateway.RequireAuth)

		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Get("/auth/sessions", authHandler.ListSessions)
		r.Delete("/auth/sessions/{id}", authHandler.RevokeSession)

		r.Post("/auth/totp/setup", authHandler.TOTPSetup)
		r.Post("/auth/totp/enable", authHandler.TOTPEnable)
	})
}
