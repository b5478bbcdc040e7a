package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"edulearn_app_echo/internal/models"
)

// ownershipIndex allows at most one non-failed enrollment per
// (user, course, subject); NULL subjects collapse to '' so the main course
// row is covered too.
const ownershipIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_enrollments_owner
	ON enrollments (user_id, course_id, COALESCE(subject_name, ''))
	WHERE status <> 'failed'`

// InitDB initializes the database connection with connection pooling
func InitDB(dsn string, verbose bool, log *zap.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("database connection established")
	return db, nil
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Course{},
		&models.CourseAddon{},
		&models.Enrollment{},
		&models.Payment{},
		&models.PaymentSession{},
		&models.PaymentCallbackHistory{},
		&models.UserNotifPreference{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	)
	if err != nil {
		return err
	}

	if err := db.Exec(ownershipIndex).Error; err != nil {
		return fmt.Errorf("create enrollment ownership index: %w", err)
	}
	return nil
}
