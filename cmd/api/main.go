package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/background"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/database"
	"github.com/tripmesh/tripmesh/internal/handlers"
	middlewareCustom "github.com/tripmesh/tripmesh/internal/middleware"
	"github.com/tripmesh/tripmesh/internal/repositories"
	"github.com/tripmesh/tripmesh/internal/routes"
	"github.com/tripmesh/tripmesh/internal/services"
	pkghttp "github.com/tripmesh/tripmesh/pkg/http"
	pkglogger "github.com/tripmesh/tripmesh/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Token issuance with independent access and refresh signing domains
	tokenIssuer := auth.NewTokenIssuer(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	sessionManager := services.NewSessionManager(sessionRepo, tokenIssuer, cfg.Auth.RefreshTokenExpiry, logger, auditLogger)
	lockoutPolicy := services.NewLockoutPolicy(userRepo, cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutDuration, logger, auditLogger)

	// The TOTP second factor is on only when an encryption key is configured
	var totpManager *auth.TOTPManager
	if cfg.Auth.TOTPEncryptionKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize totp manager", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Outbound email is best effort; a missing SES setup only disables it
	var mailer services.Mailer
	sesMailer, err := services.NewSESMailer(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Warn("email delivery disabled", slog.Any("error", err))
	} else {
		mailer = sesMailer
	}

	authService := services.NewAuthService(
		userRepo,
		sessionManager,
		tokenIssuer,
		lockoutPolicy,
		totpManager,
		mailer,
		cfg.Auth.BcryptCost,
		cfg.Auth.RotateWindow,
		logger,
		auditLogger,
	)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: trustedProxies()}
	authHandler := handlers.NewAuthHandler(authService, sessionManager, ipConfig, cfg.Cookie)

	gateway := auth.NewGateway(
		tokenIssuer,
		sessionManager,
		cfg.Cookie,
		cfg.Auth.RefreshAhead,
		cfg.Auth.RotateWindow,
		logger,
	)

	cleanupManager := background.NewCleanupManager(sessionManager, logger, cfg.Auth.CleanupInterval)

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, gateway)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// trustedProxies reads the comma-separated CIDR list governing which peers
// may set forwarding headers.
func trustedProxies() []string {
	raw := os.Getenv("TRUSTED_PROXIES")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	proxies := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}
