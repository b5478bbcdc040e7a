package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/app"
	"edulearn_app_echo/internal/config"
	"edulearn_app_echo/internal/logger"
	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/tasks"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("worker")

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	// Initialize Task Registry
	tasks.DefineTasks(a.TaskDeps())
	runner := tasks.NewRunner(a.DB, tasks.GlobalRegistry, log)

	if err := ensureSweepTask(a.DB, cfg.PendingSweepRule); err != nil {
		log.Error("seed sweep task failed", zap.Error(err))
	}

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	log.Info("worker started", zap.Duration("interval", cfg.WorkerInterval))

	// Run once on start, then on every tick.
	process(ctx, runner, log)
	for {
		select {
		case <-ticker.C:
			process(ctx, runner, log)
		case <-ctx.Done():
			log.Info("shutting down worker")
			return
		}
	}
}

func process(ctx context.Context, runner *tasks.Runner, log *zap.Logger) {
	n, err := runner.RunDue(ctx)
	if err != nil {
		log.Error("run due tasks failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("processed tasks", zap.Int("count", n))
	}
}

// ensureSweepTask creates the recurring pending-order sweep unless one is
// already active.
func ensureSweepTask(db *gorm.DB, rule string) error {
	var existing models.ScheduledTask
	err := db.Where("task_name = ? AND status = ?", tasks.ReconcilePendingOrdersTask.TaskID(), models.ScheduledTaskStatusActive).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	task, err := tasks.ReconcilePendingOrdersTask.CreateTask(rule, time.Now())
	if err != nil {
		return err
	}
	return db.Create(task).Error
}
