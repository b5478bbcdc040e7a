package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment is the ledger row written once per successfully reconciled order.
type Payment struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID       string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"order_id"`
	PaymentID     string          `gorm:"type:varchar(100)" json:"payment_id"`
	UserID        string          `gorm:"type:varchar(100);index" json:"user_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Status        string          `gorm:"type:varchar(20)" json:"status"`
	PaymentMode   string          `gorm:"type:varchar(50)" json:"payment_mode"`
	PaymentGroup  string          `gorm:"type:varchar(50)" json:"payment_group"`
	PaymentTime   *time.Time      `json:"payment_time"`
	UTR           *string         `gorm:"column:utr;type:varchar(100)" json:"utr"`
	CustomerEmail string          `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerPhone string          `gorm:"type:varchar(50)" json:"customer_phone"`
	RawResponse   datatypes.JSON  `json:"raw_response"`

	Batch   string `gorm:"type:varchar(255)" json:"batch"`
	Courses string `gorm:"type:text" json:"courses"`

	DiscountApplied bool            `json:"discount_applied"`
	DiscountType    string          `gorm:"type:varchar(50)" json:"discount_type"`
	DiscountValue   decimal.Decimal `gorm:"type:decimal(12,2)" json:"discount_value"`
	CouponCode      string          `gorm:"type:varchar(100)" json:"coupon_code"`
	NetAmount       decimal.Decimal `gorm:"type:decimal(12,2)" json:"net_amount"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
