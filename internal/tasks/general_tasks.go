package tasks

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

// LogInfoTaskDef encapsulates the log info task
type LogInfoTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *LogInfoTaskDef) TaskID() string {
	return "log_info"
}

// Handler logs the message argument; useful to check the worker is alive.
func (t *LogInfoTaskDef) Handler(log *zap.Logger) TaskHandler {
	return func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
		message, ok := task.Arguments["message"].(string)
		if !ok {
			message = "No message provided"
		}
		log.Info("log_info task", zap.String("message", message), zap.Uint("task_id", task.ID))

		return map[string]interface{}{
			"status":            "success",
			"message":           message,
			"max_attempts_info": task.MaxAttempt,
		}, nil
	}
}

// LogInfoTask is the singleton instance of LogInfoTaskDef
var LogInfoTask = &LogInfoTaskDef{}
