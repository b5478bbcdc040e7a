package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/services"
)

const (
	defaultSweepLimit = 100
	defaultSweepAge   = 30 * time.Minute
	// DefaultSweepRule runs the sweep every 15 minutes.
	DefaultSweepRule = "FREQ=MINUTELY;INTERVAL=15"
)

type ReconcilePendingOrdersArgs struct {
	Limit int `json:"limit"`
}

// ReconcilePendingOrdersTaskDef settles orders whose browser redirect never
// reached the verify endpoint.
type ReconcilePendingOrdersTaskDef struct{}

func (t *ReconcilePendingOrdersTaskDef) TaskID() string {
	return "reconcile_pending_orders"
}

// CreateTask builds the recurring sweep task.
func (t *ReconcilePendingOrdersTaskDef) CreateTask(rule string, due time.Time) (*models.ScheduledTask, error) {
	if rule == "" {
		rule = DefaultSweepRule
	}
	return BuildScheduledTask(t.TaskID(), ReconcilePendingOrdersArgs{Limit: defaultSweepLimit}, due, &rule, models.ScheduledTaskTypeRecurring, 1)
}

func (t *ReconcilePendingOrdersTaskDef) Handler(deps Deps) TaskHandler {
	log := deps.Log.Named("reconcile_pending_orders")
	age := deps.SweepAge
	if age <= 0 {
		age = defaultSweepAge
	}

	return func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		var args ReconcilePendingOrdersArgs
		if err := decodeArgs(task, &args); err != nil {
			return nil, err
		}
		if args.Limit <= 0 {
			args.Limit = defaultSweepLimit
		}

		orderIDs, err := deps.PendingOrders.StalePendingOrders(ctx, time.Now().Add(-age), args.Limit)
		if err != nil {
			return nil, fmt.Errorf("list pending orders: %w", err)
		}

		counts := map[string]int{}
		var failures, orphaned []string
		for _, orderID := range orderIDs {
			if ctx.Err() != nil {
				break
			}
			out, err := deps.Reconciler.Reconcile(ctx, orderID, services.ReconcileOptions{KeepActivePending: true, Source: "sweep"})
			if err != nil {
				log.Warn("sweep reconcile failed", zap.String("order_id", orderID), zap.Error(err))
				failures = append(failures, orderID)
			}
			counts[out.Status]++
			if out.Orphaned {
				orphaned = append(orphaned, orderID)
			}
		}

		result := map[string]interface{}{
			"status":  "success",
			"checked": len(orderIDs),
			"success": counts[services.StatusSuccess],
			"failed":  counts[services.StatusFailed],
			"pending": counts[services.StatusPending],
			"errors":  counts[services.StatusError],
		}
		if len(failures) > 0 {
			result["failed_orders"] = failures
		}
		if len(orphaned) > 0 {
			result["orphaned_orders"] = orphaned
		}
		log.Info("sweep finished", zap.Int("checked", len(orderIDs)), zap.Int("errors", len(failures)))
		return result, nil
	}
}

var ReconcilePendingOrdersTask = &ReconcilePendingOrdersTaskDef{}
