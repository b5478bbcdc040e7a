package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrInvalidCoursePrice is returned when a discounted price exceeds the list price.
var ErrInvalidCoursePrice = errors.New("discounted price must not exceed price")

// Course is a catalog entry. Subject holds the comma-separated list of
// mandatory subjects bundled with the course.
type Course struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title           string              `gorm:"type:varchar(255);not null" json:"title"`
	Subject         string              `gorm:"type:text" json:"subject"`
	Price           decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"price"`
	DiscountedPrice decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"discounted_price"`
	ExamCategory    string              `gorm:"type:varchar(100)" json:"exam_category"`
	Branch          string              `gorm:"type:varchar(100)" json:"branch"`
	Level           string              `gorm:"type:varchar(100)" json:"level"`

	Addons []CourseAddon `gorm:"foreignKey:ParentCourseID" json:"addons,omitempty"`
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Course) BeforeSave(tx *gorm.DB) error {
	return c.Validate()
}

// Validate checks the catalog price invariant.
func (c Course) Validate() error {
	if c.Price.Valid && c.DiscountedPrice.Valid && c.DiscountedPrice.Decimal.GreaterThan(c.Price.Decimal) {
		return ErrInvalidCoursePrice
	}
	return nil
}

// IsFree reports whether the course has no price or a zero price.
func (c Course) IsFree() bool {
	return !c.Price.Valid || c.Price.Decimal.IsZero()
}

// EffectivePrice is the discounted price when set, otherwise the list price.
func (c Course) EffectivePrice() decimal.Decimal {
	if c.DiscountedPrice.Valid {
		return c.DiscountedPrice.Decimal
	}
	if c.Price.Valid {
		return c.Price.Decimal
	}
	return decimal.Zero
}

// MandatorySubjects splits Subject on commas, dropping blanks.
func (c Course) MandatorySubjects() []string {
	var out []string
	for _, s := range strings.Split(c.Subject, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CourseAddon is an optional, separately priced subject attached to a course.
type CourseAddon struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ParentCourseID string          `gorm:"type:uuid;index;not null" json:"parent_course_id"`
	SubjectName    string          `gorm:"type:varchar(255);not null" json:"subject_name"`
	Price          decimal.Decimal `gorm:"type:decimal(12,2)" json:"price"`
}

func (a *CourseAddon) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
