package models

import (
	"time"

	"gorm.io/gorm"
)

type NotificationChannel string

const (
	NotificationChannelEmail    NotificationChannel = "email"
	NotificationChannelWhatsapp NotificationChannel = "whatsapp"
	NotificationChannelNone     NotificationChannel = "none"
)

const (
	WhatsappTargetTypePersonal = "personal"
	WhatsappTargetTypeGroup    = "group"
)

// UserNotifPreference selects how payment confirmations reach a user.
// Users without a row get email.
type UserNotifPreference struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID string `gorm:"type:varchar(100);uniqueIndex" json:"user_id"`

	Channel NotificationChannel `gorm:"type:varchar(20);default:'email'" json:"channel"`

	WhatsappTargetType string `gorm:"type:varchar(20);default:'personal'" json:"whatsapp_target_type"`
	WhatsappGroupID    string `gorm:"type:varchar(100)" json:"whatsapp_group_id"`
}

// DefaultNotifPreference is used when a user never stored a preference.
func DefaultNotifPreference(userID string) UserNotifPreference {
	return UserNotifPreference{
		UserID:             userID,
		Channel:            NotificationChannelEmail,
		WhatsappTargetType: WhatsappTargetTypePersonal,
	}
}

// Valid reports whether the channel and WhatsApp target are known values.
func (p UserNotifPreference) Valid() bool {
	switch p.Channel {
	case NotificationChannelEmail, NotificationChannelNone:
		return true
	case NotificationChannelWhatsapp:
		if p.WhatsappTargetType == WhatsappTargetTypeGroup {
			return p.WhatsappGroupID != ""
		}
		return p.WhatsappTargetType == "" || p.WhatsappTargetType == WhatsappTargetTypePersonal
	}
	return false
}
