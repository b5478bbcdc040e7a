package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayCashfree PaymentGateway = "cashfree"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
)

// PaymentSession records one gateway order created for a checkout. ItemsKey
// identifies the purchased item set so an unfinished checkout can be resumed.
type PaymentSession struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           string          `gorm:"type:varchar(100);index:idx_payment_sessions_lookup,priority:1" json:"user_id"`
	CourseID         string          `gorm:"type:uuid;index:idx_payment_sessions_lookup,priority:2" json:"course_id"`
	ItemsKey         string          `gorm:"type:text;index:idx_payment_sessions_lookup,priority:3" json:"items_key"`
	PaymentGateway   PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID          string          `gorm:"type:varchar(100);uniqueIndex" json:"order_id"`
	PaymentSessionID string          `gorm:"type:text" json:"payment_session_id"`
	RedirectURL      string          `gorm:"type:text" json:"redirect_url"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	IsActive         bool            `gorm:"default:true" json:"is_active"`
	RequestMetadata  datatypes.JSON  `json:"request_metadata"`
	ResponseMetadata datatypes.JSON  `json:"response_metadata"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}
