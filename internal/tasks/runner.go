package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

// Runner executes due ScheduledTask rows and keeps their history.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	log      *zap.Logger
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, log *zap.Logger) *Runner {
	return &Runner{db: db, registry: registry, log: log.Named("worker"), now: time.Now}
}

// RunDue executes every active task whose due date has passed and returns
// how many ran.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due asc").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("fetch pending tasks: %w", err)
	}

	if len(pending) == 0 {
		r.log.Debug("no pending tasks")
		return 0, nil
	}
	r.log.Info("found pending tasks", zap.Int("count", len(pending)))

	ran := 0
	for _, task := range pending {
		// Check context cancellation
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		r.Execute(ctx, task)
		ran++
	}
	return ran, nil
}

// Execute runs one task. One-time tasks end done or failure; recurring tasks
// move to their next occurrence either way so a bad run does not stop them.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log := r.log.With(zap.String("task", task.TaskName), zap.Uint("task_id", task.ID))

	if task.Arguments == nil {
		task.Arguments = make(map[string]interface{})
	}
	task.Arguments["max_attempt"] = task.MaxAttempt
	attempt := attemptOf(task)

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Warn("task handler not found, marking as failure")
		now := r.now()
		r.update(ctx, &task, map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		r.history(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	startTime := r.now()
	result, err := r.safeCall(ctx, handler, task)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	if err != nil {
		status = "failure"
		result = map[string]interface{}{"error": err.Error()}
		log.Error("task failed", zap.Error(err))
	} else {
		log.Info("task completed", zap.Int("runtime_ms", runtimeMs))
	}

	r.history(ctx, models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		RuntimeMs:       runtimeMs,
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	})

	updates := map[string]interface{}{"last_run": &startTime}
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		nextDue := task.NextDue(r.now())
		// only a future occurrence keeps the task alive, else it would run every tick
		if nextDue.After(task.Due) {
			updates["status"] = models.ScheduledTaskStatusActive
			updates["due"] = nextDue
		} else {
			updates["status"] = models.ScheduledTaskStatusDone
		}
	default:
		if status == "success" {
			updates["status"] = models.ScheduledTaskStatusDone
		} else {
			updates["status"] = models.ScheduledTaskStatusFailure
		}
	}
	r.update(ctx, &task, updates)
}

func (r *Runner) safeCall(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return handler(ctx, r.db, task)
}

func (r *Runner) update(ctx context.Context, task *models.ScheduledTask, updates map[string]interface{}) {
	if err := r.db.WithContext(ctx).Model(task).Updates(updates).Error; err != nil {
		r.log.Error("update task failed", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

func (r *Runner) history(ctx context.Context, h models.ScheduledTaskHistory) {
	if err := r.db.WithContext(ctx).Create(&h).Error; err != nil {
		r.log.Error("write task history failed", zap.Uint("task_id", h.ScheduledTaskID), zap.Error(err))
	}
}

func attemptOf(task models.ScheduledTask) int {
	switch v := task.Arguments["attempt_count"].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	}
	return 1
}
