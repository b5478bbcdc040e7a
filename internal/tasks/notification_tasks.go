package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/services"
)

const (
	confirmationRetryDelay  = 5 * time.Minute
	confirmationMaxAttempts = 3
)

// SendPaymentConfirmationArgs defines the arguments for a confirmation retry
type SendPaymentConfirmationArgs struct {
	OrderID      string `json:"order_id"`
	AttemptCount int    `json:"attempt_count"`
}

// SendPaymentConfirmationTaskDef re-sends a payment confirmation that failed
// during reconciliation.
type SendPaymentConfirmationTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendPaymentConfirmationTaskDef) TaskID() string {
	return "send_payment_confirmation"
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendPaymentConfirmationTaskDef) CreateTask(args SendPaymentConfirmationArgs, due time.Time) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, confirmationMaxAttempts)
}

func (t *SendPaymentConfirmationTaskDef) Handler(deps Deps) TaskHandler {
	log := deps.Log.Named("send_payment_confirmation")
	return func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		var args SendPaymentConfirmationArgs
		if err := decodeArgs(task, &args); err != nil {
			return nil, err
		}
		if args.OrderID == "" {
			return nil, services.ErrMissingOrderID
		}
		if args.AttemptCount == 0 {
			args.AttemptCount = 1
		}

		err := deps.Reconciler.ResendConfirmation(ctx, args.OrderID)
		if err == nil {
			return map[string]interface{}{"status": "success", "order_id": args.OrderID, "attempt": args.AttemptCount}, nil
		}
		if errors.Is(err, services.ErrPaymentNotFound) {
			return nil, err
		}

		maxRetries := task.MaxAttempt
		if args.AttemptCount >= maxRetries {
			log.Warn("confirmation retries exhausted", zap.String("order_id", args.OrderID), zap.Error(err))
			return nil, fmt.Errorf("max attempts reached for order %s: %w", args.OrderID, err)
		}

		next := args
		next.AttemptCount++
		retry, buildErr := t.CreateTask(next, time.Now().Add(confirmationRetryDelay))
		if buildErr != nil {
			return nil, buildErr
		}
		retry.MaxAttempt = maxRetries
		if createErr := db.WithContext(ctx).Create(retry).Error; createErr != nil {
			return nil, fmt.Errorf("reschedule confirmation: %w", createErr)
		}
		log.Info("confirmation rescheduled", zap.String("order_id", args.OrderID), zap.Int("attempt", next.AttemptCount))

		return map[string]interface{}{
			"status":       "rescheduled",
			"order_id":     args.OrderID,
			"error":        err.Error(),
			"next_task":    retry.ID,
			"next_attempt": next.AttemptCount,
		}, nil
	}
}

// SendPaymentConfirmationTask is the singleton instance of SendPaymentConfirmationTaskDef
var SendPaymentConfirmationTask = &SendPaymentConfirmationTaskDef{}

// ConfirmationRetryQueue queues failed confirmations for the worker. It
// implements services.RetryQueue.
type ConfirmationRetryQueue struct {
	db *gorm.DB
}

func NewConfirmationRetryQueue(db *gorm.DB) *ConfirmationRetryQueue {
	return &ConfirmationRetryQueue{db: db}
}

func (q *ConfirmationRetryQueue) EnqueueConfirmation(ctx context.Context, orderID string) error {
	task, err := SendPaymentConfirmationTask.CreateTask(SendPaymentConfirmationArgs{OrderID: orderID, AttemptCount: 1}, time.Now().Add(confirmationRetryDelay))
	if err != nil {
		return err
	}
	return q.db.WithContext(ctx).Create(task).Error
}
