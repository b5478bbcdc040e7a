package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"edulearn_app_echo/internal/services"
)

// Reconciler is the part of services.Reconciler the tasks need.
type Reconciler interface {
	Reconcile(ctx context.Context, orderID string, opts services.ReconcileOptions) (services.Outcome, error)
	ResendConfirmation(ctx context.Context, orderID string) error
}

// PendingOrderSource lists orders still waiting for a terminal status.
type PendingOrderSource interface {
	StalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

type Deps struct {
	Reconciler    Reconciler
	PendingOrders PendingOrderSource
	// SweepAge is how long an order stays pending before the sweep checks it.
	SweepAge time.Duration
	Log      *zap.Logger
}

// Define registers every task on r.
func (r *Registry) Define(deps Deps) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	// Register general tasks
	r.Register(LogInfoTask.TaskID(), LogInfoTask.Handler(deps.Log))

	// Register reconciliation tasks
	r.Register(ReconcilePendingOrdersTask.TaskID(), ReconcilePendingOrdersTask.Handler(deps))

	// Register notification tasks
	r.Register(SendPaymentConfirmationTask.TaskID(), SendPaymentConfirmationTask.Handler(deps))
}

// DefineTasks registers all available tasks on the global registry
func DefineTasks(deps Deps) {
	GlobalRegistry.Define(deps)
}
