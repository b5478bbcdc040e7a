package services

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotConfigured     = errors.New("reconciliation is not configured")
	ErrMissingOrderID    = errors.New("order_id is required")
	ErrCourseNotFound    = errors.New("course not found")
	ErrUnknownAddon      = errors.New("unknown add-on for course")
	ErrCourseNotFree     = errors.New("course is not free")
	ErrAlreadyEnrolled   = errors.New("already enrolled")
	ErrAlreadyReconciled = errors.New("order already reconciled")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrForbidden         = errors.New("user mismatch")
	ErrNothingToPurchase = errors.New("nothing left to purchase")
)

// IsDuplicateKey reports whether err is a unique-constraint violation from
// any of the drivers in use.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "sqlstate 23505")
}
