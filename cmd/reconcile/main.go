package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"edulearn_app_echo/internal/app"
	"edulearn_app_echo/internal/config"
	"edulearn_app_echo/internal/logger"
	"edulearn_app_echo/internal/services"
)

// reconcile settles one order by hand, for support cases where neither the
// redirect nor the sweep reached a terminal status.
func main() {
	orderID := flag.String("order_id", "", "Gateway order id (mandatory)")
	resend := flag.Bool("resend", false, "Re-send the payment confirmation instead of reconciling")
	keepActive := flag.Bool("keep_active", false, "Leave enrollments pending while the gateway reports ACTIVE")
	flag.Parse()

	if *orderID == "" {
		fmt.Println("Usage: reconcile -order_id <id> [-resend] [-keep_active]")
		flag.PrintDefaults()
		os.Exit(1)
	}

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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *resend {
		if err := a.Reconciler.ResendConfirmation(ctx, *orderID); err != nil {
			log.Fatal("resend confirmation failed", zap.String("order_id", *orderID), zap.Error(err))
		}
		fmt.Printf("Confirmation sent for %s\n", *orderID)
		return
	}

	out, err := a.Reconciler.Reconcile(ctx, *orderID, services.ReconcileOptions{
		KeepActivePending: *keepActive,
		Source:            "cli",
	})
	if err != nil {
		log.Error("reconciliation failed", zap.String("order_id", *orderID), zap.Error(err))
	}

	fmt.Printf("Order:     %s\n", out.OrderID)
	fmt.Printf("Status:    %s\n", out.Status)
	fmt.Printf("PaymentID: %s\n", out.PaymentID)
	fmt.Printf("Persisted: %t (already reconciled: %t, locked: %t)\n", out.Persisted, out.AlreadyReconciled, out.Locked)
	if out.Orphaned {
		fmt.Println("WARNING: payment recorded but no enrollment was granted")
	}
	if err != nil {
		os.Exit(1)
	}
}
