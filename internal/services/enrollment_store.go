package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edulearn_app_echo/internal/models"
)

// EnrollmentStore owns every write to the enrollments table.
type EnrollmentStore struct {
	db *gorm.DB
}

func NewEnrollmentStore(db *gorm.DB) *EnrollmentStore {
	return &EnrollmentStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *EnrollmentStore) WithTx(tx *gorm.DB) *EnrollmentStore {
	return &EnrollmentStore{db: tx}
}

func (s *EnrollmentStore) ListByUserCourse(ctx context.Context, userID, courseID string) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return rows, nil
}

func (s *EnrollmentStore) ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return rows, nil
}

// ListByOrder returns every row of an order with its course, oldest first.
func (s *EnrollmentStore) ListByOrder(ctx context.Context, orderID string) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("order_id = ?", orderID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list order enrollments: %w", err)
	}
	return rows, nil
}

// GrantFree enrolls a user in a free course, or in a zero-priced add-on when
// subject is set. An existing non-failed row yields ErrAlreadyEnrolled.
func (s *EnrollmentStore) GrantFree(ctx context.Context, userID, courseID string, subject *string) (*models.Enrollment, error) {
	db := s.db.WithContext(ctx)

	var course models.Course
	if !IsUUID(courseID) {
		return nil, ErrCourseNotFound
	}
	if err := db.First(&course, "id = ?", courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}

	row := &models.Enrollment{
		UserID:   userID,
		CourseID: course.ID,
		Amount:   decimal.Zero,
		Status:   models.EnrollmentStatusActive,
	}

	if subject == nil {
		if !course.IsFree() {
			return nil, ErrCourseNotFree
		}
	} else {
		var addons []models.CourseAddon
		if err := db.Where("parent_course_id = ?", course.ID).Find(&addons).Error; err != nil {
			return nil, fmt.Errorf("list addons: %w", err)
		}
		addon, ok := MatchAddon(addons, *subject)
		if !ok {
			return nil, ErrUnknownAddon
		}
		if !addon.Price.IsZero() {
			return nil, ErrCourseNotFree
		}
		name := addon.SubjectName
		row.SubjectName = &name
	}

	if err := db.Create(row).Error; err != nil {
		if IsDuplicateKey(err) {
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("grant enrollment: %w", err)
	}
	return row, nil
}

// UpsertPending points an existing pending row for the same item at the new
// order, or inserts a fresh pending row.
func (s *EnrollmentStore) UpsertPending(ctx context.Context, row *models.Enrollment) error {
	_, err := s.ClaimPending(ctx, row)
	return err
}

// ClaimPending is UpsertPending that also returns the order a moved row was
// taken from, so the caller can retire that order's checkout. An item the
// user already owns yields ErrAlreadyEnrolled without attempting a write.
func (s *EnrollmentStore) ClaimPending(ctx context.Context, row *models.Enrollment) (string, error) {
	db := s.db.WithContext(ctx)

	var holders []models.Enrollment
	q := sameItem(db.Where("user_id = ? AND course_id = ? AND status <> ?", row.UserID, row.CourseID, models.EnrollmentStatusFailed), row.SubjectName)
	if err := q.Order("created_at asc").Find(&holders).Error; err != nil {
		return "", fmt.Errorf("find pending enrollment: %w", err)
	}

	var existing *models.Enrollment
	for i := range holders {
		if holders[i].Settled() {
			return "", ErrAlreadyEnrolled
		}
		if existing == nil && holders[i].Status == models.EnrollmentStatusPending {
			existing = &holders[i]
		}
	}

	if existing != nil {
		movedFrom := existing.OrderID
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		row.Status = models.EnrollmentStatusPending
		err := db.Model(&models.Enrollment{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
			"order_id":   row.OrderID,
			"amount":     row.Amount,
			"payment_id": "",
		}).Error
		if err != nil {
			return "", fmt.Errorf("move pending enrollment: %w", err)
		}
		if movedFrom == row.OrderID {
			movedFrom = ""
		}
		return movedFrom, nil
	}

	row.Status = models.EnrollmentStatusPending
	if err := db.Omit(clause.Associations).Create(row).Error; err != nil {
		if IsDuplicateKey(err) {
			return "", ErrAlreadyEnrolled
		}
		return "", fmt.Errorf("insert pending enrollment: %w", err)
	}
	return "", nil
}

// Settlement is the result of granting a paid order.
type Settlement struct {
	// Settled counts rows of the order that now grant access.
	Settled int
	// Duplicates counts rows left failed because the user already owned
	// the item through another order.
	Duplicates int
	// Superseded lists other orders whose pending rows were failed to make
	// room for this one.
	Superseded []string
}

// SettleOrder moves every row of a paid order to success. A pending row for
// the same item on another order is failed first, since only one live row
// per item may exist; an item already granted elsewhere is left alone.
func (s *EnrollmentStore) SettleOrder(ctx context.Context, orderID, paymentID string) (Settlement, error) {
	db := s.db.WithContext(ctx)
	var res Settlement

	var rows []models.Enrollment
	if err := db.Where("order_id = ?", orderID).Order("created_at asc").Find(&rows).Error; err != nil {
		return res, fmt.Errorf("list order enrollments: %w", err)
	}

	for _, row := range rows {
		if row.Settled() {
			res.Settled++
			continue
		}

		var others []models.Enrollment
		q := sameItem(db.Where("user_id = ? AND course_id = ? AND id <> ? AND status <> ?",
			row.UserID, row.CourseID, row.ID, models.EnrollmentStatusFailed), row.SubjectName)
		if err := q.Find(&others).Error; err != nil {
			return res, fmt.Errorf("find competing enrollments: %w", err)
		}
		owned := false
		for _, o := range others {
			owned = owned || o.Settled()
		}
		if owned {
			res.Duplicates++
			continue
		}

		for _, o := range others {
			err := db.Model(&models.Enrollment{}).Where("id = ?", o.ID).
				Update("status", models.EnrollmentStatusFailed).Error
			if err != nil {
				return res, fmt.Errorf("supersede enrollment: %w", err)
			}
			if o.OrderID != "" {
				res.Superseded = append(res.Superseded, o.OrderID)
			}
		}

		updates := map[string]interface{}{"status": models.EnrollmentStatusSuccess}
		if paymentID != "" {
			updates["payment_id"] = paymentID
		}
		if err := db.Model(&models.Enrollment{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return res, fmt.Errorf("settle enrollment: %w", err)
		}
		res.Settled++
	}
	return res, nil
}

func sameItem(q *gorm.DB, subject *string) *gorm.DB {
	if subject == nil {
		return q.Where("subject_name IS NULL")
	}
	return q.Where("subject_name = ?", *subject)
}

// UpdateStatusByOrder moves every row of an order to status. An empty
// paymentID leaves the stored one untouched.
func (s *EnrollmentStore) UpdateStatusByOrder(ctx context.Context, orderID string, status models.EnrollmentStatus, paymentID string) (int64, error) {
	updates := map[string]interface{}{"status": status}
	if paymentID != "" {
		updates["payment_id"] = paymentID
	}
	res := s.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("order_id = ?", orderID).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("update enrollment status: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// StalePendingOrders lists distinct order ids whose rows are still pending
// and were last touched before olderThan.
func (s *EnrollmentStore) StalePendingOrders(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("status = ? AND order_id <> '' AND updated_at < ?", models.EnrollmentStatusPending, olderThan).
		Distinct("order_id").
		Limit(limit).
		Pluck("order_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list stale pending orders: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out, nil
}
