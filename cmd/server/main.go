package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"edulearn_app_echo/internal/app"
	"edulearn_app_echo/internal/config"
	"edulearn_app_echo/internal/handlers"
	"edulearn_app_echo/internal/logger"
	authMiddleware "edulearn_app_echo/internal/middleware"
	"edulearn_app_echo/internal/services"
)

func main() {
	// Load environment variables
	config.LoadEnv()
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// Firebase is an optional second token issuer.
	authCfg := authMiddleware.AuthConfig{JWTSecret: []byte(cfg.SupabaseJWTSecret), Log: log}
	if fb, err := services.InitFirebase(context.Background(), cfg.FirebaseCredentialsPath); err == nil {
		authCfg.Firebase = fb
	} else if !errors.Is(err, services.ErrFirebaseDisabled) {
		log.Warn("firebase initialization failed, firebase tokens will be rejected", zap.Error(err))
	}
	if cfg.SupabaseJWTSecret == "" && authCfg.Firebase == nil {
		log.Warn("no token verifier configured, authenticated endpoints will answer 401")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler(log)

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logger.EchoRequestLogger(log))
	e.Use(middleware.Recover())
	e.Use(authMiddleware.CORS())

	routes := handlers.Routes{
		Payments: handlers.NewPaymentHandler(handlers.PaymentHandlerDeps{
			Reconciler:  a.Reconciler,
			Orders:      a.Orders,
			Webhooks:    a.Gateway,
			Enrollments: a.Enrollments,
			Log:         log,
		}, handlers.PaymentHandlerConfig{
			FrontendURL:          cfg.FrontendURL,
			AllowedRedirectHosts: cfg.AllowedRedirectHosts,
		}),
		Enrollments: handlers.NewEnrollmentHandler(a.Catalog, a.Enrollments, log),
		Preferences: handlers.NewUserPreferenceHandler(a.DB, log),
		Health:      handlers.NewHealthHandler(a.DB),
	}
	routes.Register(e, authMiddleware.RequireAuth(authCfg))

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("gateway", a.Gateway.Name()))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
