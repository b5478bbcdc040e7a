package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"edulearn_app_echo/internal/config"
	"edulearn_app_echo/internal/logger"
	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/services"
	"edulearn_app_echo/internal/tasks"
)

func main() {
	// defined flags
	taskName := flag.String("task_name", "", "Name of the task (mandatory)")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	recurring := flag.String("recurring", "", "RRULE for recurring tasks, e.g. FREQ=MINUTELY;INTERVAL=15")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts")

	flag.Parse()

	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [-arguments <json>] [options]")
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

	known := tasks.NewRegistry()
	known.Define(tasks.Deps{})
	if _, ok := known.Get(*taskName); !ok {
		log.Warn("task name is not registered by this build", zap.String("task_name", *taskName))
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatal("invalid JSON arguments", zap.Error(err))
	}

	due, err := time.Parse(time.RFC3339, *dueStr)
	if err != nil {
		due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
		if err != nil {
			log.Fatal("invalid due date, use '2006-01-02 15:04' (local) or RFC3339", zap.Error(err))
		}
	}

	var rule *string
	if *recurring != "" {
		rule = recurring
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due, rule, models.ScheduledTaskType(*taskType), *maxAttempt)
	if err != nil {
		log.Fatal("invalid task", zap.Error(err))
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, false, log)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}

	if err := db.Create(task).Error; err != nil {
		log.Fatal("create task", zap.Error(err))
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
