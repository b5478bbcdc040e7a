// Package app wires configuration into the services shared by the server,
// the worker and the support CLIs.
package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/config"
	"edulearn_app_echo/internal/services"
	"edulearn_app_echo/internal/tasks"
)

type App struct {
	Config config.Config
	Log    *zap.Logger

	DB      *gorm.DB
	Cache   *services.RedisCache
	Gateway services.Gateway

	Catalog     *services.Catalog
	Enrollments *services.EnrollmentStore
	Ledger      *services.PaymentLedger
	Notifier    *services.ConfirmationNotifier
	Reconciler  *services.Reconciler
	Orders      *services.OrderService
}

// New connects to the database (and Redis when REDIS_URL is set) and builds
// every service. A missing DATABASE_URL is an error; missing gateway
// credentials only disable reconciliation.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := services.InitDB(cfg.DatabaseURL, !cfg.IsProduction(), log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db}

	if cfg.RedisURL != "" {
		cache, err := services.NewRedisCache(cfg.RedisURL, log)
		if err != nil {
			// Redis only provides the order lock and lookup cache.
			log.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			a.Cache = cache
		}
	}

	a.Gateway = NewGateway(cfg, log)
	a.Catalog = services.NewCatalog(db, a.Cache, log)
	a.Enrollments = services.NewEnrollmentStore(db)
	a.Ledger = services.NewPaymentLedger(db)

	email := services.NewEmailService(services.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.EmailFrom,
	})
	if !email.Enabled() {
		log.Warn("SMTP not configured, confirmation emails disabled")
	}
	var waha *services.WahaService
	if cfg.WahaBaseURL != "" {
		waha = services.NewWahaService(cfg.WahaBaseURL, cfg.WahaAPIKey)
	}
	a.Notifier = services.NewConfirmationNotifier(db, email, waha, log)

	deps := services.ReconcilerDeps{
		DB:             db,
		Gateway:        a.Gateway,
		Enrollments:    a.Enrollments,
		Ledger:         a.Ledger,
		Catalog:        a.Catalog,
		Notifier:       a.Notifier,
		Retry:          tasks.NewConfirmationRetryQueue(db),
		MissingSecrets: cfg.MissingReconcileSecrets(),
		Log:            log,
	}
	if a.Cache != nil {
		deps.Locker = a.Cache
	}
	a.Reconciler = services.NewReconciler(deps)
	if err := a.Reconciler.Ready(); err != nil {
		log.Warn("reconciliation disabled", zap.Error(err))
	}

	a.Orders = services.NewOrderService(db, a.Gateway, a.Catalog, a.Enrollments, services.OrderServiceConfig{
		PublicAPIURL: cfg.PublicAPIURL,
		FrontendURL:  cfg.FrontendURL,
	}, log)

	return a, nil
}

// NewGateway selects the payment gateway from PAYMENT_GATEWAY.
func NewGateway(cfg config.Config, log *zap.Logger) services.Gateway {
	switch strings.ToLower(cfg.PaymentGateway) {
	case "midtrans":
		return services.NewMidtransGateway(cfg.MidtransServerKey, cfg.MidtransClientKey, cfg.MidtransIsProduction)
	default:
		return services.NewCashfreeGateway(services.CashfreeConfig{
			ClientID:     cfg.CashfreeClientID,
			ClientSecret: cfg.CashfreeClientSecret,
			Environment:  cfg.CashfreeEnvironment,
			APIVersion:   cfg.CashfreeAPIVersion,
		}, log)
	}
}

// TaskDeps is what the worker registry needs from the app.
func (a *App) TaskDeps() tasks.Deps {
	return tasks.Deps{
		Reconciler:    a.Reconciler,
		PendingOrders: a.Enrollments,
		SweepAge:      a.Config.PendingSweepAge,
		Log:           a.Log,
	}
}

func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Log.Warn("close redis", zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
