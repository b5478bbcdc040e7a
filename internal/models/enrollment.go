package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentStatusPending EnrollmentStatus = "pending"
	EnrollmentStatusActive  EnrollmentStatus = "active"
	EnrollmentStatusSuccess EnrollmentStatus = "success"
	EnrollmentStatusPaid    EnrollmentStatus = "paid"
	EnrollmentStatusFailed  EnrollmentStatus = "failed"
)

// Enrollment grants a user access to a course (SubjectName nil) or to one
// add-on of that course. Rows are never deleted; a failed row is history.
type Enrollment struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID      string           `gorm:"type:varchar(100);index;not null" json:"user_id"`
	CourseID    string           `gorm:"type:uuid;index;not null" json:"course_id"`
	SubjectName *string          `gorm:"type:varchar(255)" json:"subject_name"`
	Amount      decimal.Decimal  `gorm:"type:decimal(12,2)" json:"amount"`
	Status      EnrollmentStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	OrderID     string           `gorm:"type:varchar(100);index" json:"order_id,omitempty"`
	PaymentID   string           `gorm:"type:varchar(100)" json:"payment_id,omitempty"`

	Course Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = EnrollmentStatusPending
	}
	return nil
}

// IsMainCourse reports whether the row grants the base course.
func (e Enrollment) IsMainCourse() bool {
	return e.SubjectName == nil
}

// Holds reports whether the row still counts towards ownership.
func (e Enrollment) Holds() bool {
	return e.Status != EnrollmentStatusFailed
}

// Settled reports whether access has actually been granted.
func (e Enrollment) Settled() bool {
	switch e.Status {
	case EnrollmentStatusActive, EnrollmentStatusSuccess, EnrollmentStatusPaid:
		return true
	}
	return false
}
