package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentCallbackHistory is an audit row per reconciliation attempt,
// including the ones that ended in an error redirect.
type PaymentCallbackHistory struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	OrderID        string         `gorm:"type:varchar(100);index" json:"order_id"`
	Source         string         `gorm:"type:varchar(50)" json:"source"`
	FinalStatus    string         `gorm:"type:varchar(20)" json:"final_status"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	Orphaned       bool           `gorm:"index" json:"orphaned"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}
