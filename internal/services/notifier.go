package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

// Confirmation is what a customer is told after a successful payment.
type Confirmation struct {
	OrderID       string
	UserID        string
	Email         string
	Phone         string
	Batch         string
	Subjects      string
	NetAmount     decimal.Decimal
	TransactionID string
}

// Notifier delivers payment confirmations.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}

// ConfirmationNotifier routes a confirmation to the channel the user chose.
// Users without a stored preference get email.
type ConfirmationNotifier struct {
	db    *gorm.DB
	email *EmailService
	waha  *WahaService
	log   *zap.Logger
}

func NewConfirmationNotifier(db *gorm.DB, email *EmailService, waha *WahaService, log *zap.Logger) *ConfirmationNotifier {
	return &ConfirmationNotifier{db: db, email: email, waha: waha, log: log.Named("notifier")}
}

func (n *ConfirmationNotifier) preference(ctx context.Context, userID string) models.UserNotifPreference {
	if userID == "" {
		return models.DefaultNotifPreference(userID)
	}
	var pref models.UserNotifPreference
	err := n.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			n.log.Warn("load notification preference", zap.String("user_id", userID), zap.Error(err))
		}
		return models.DefaultNotifPreference(userID)
	}
	return pref
}

func (n *ConfirmationNotifier) Notify(ctx context.Context, c Confirmation) error {
	pref := n.preference(ctx, c.UserID)
	log := n.log.With(zap.String("order_id", c.OrderID), zap.String("channel", string(pref.Channel)))

	switch pref.Channel {
	case models.NotificationChannelNone:
		log.Debug("confirmation disabled by user")
		return nil
	case models.NotificationChannelWhatsapp:
		if !n.waha.Enabled() {
			log.Debug("whatsapp not configured, skipping confirmation")
			return nil
		}
		target := c.Phone
		if pref.WhatsappTargetType == models.WhatsappTargetTypeGroup {
			target = pref.WhatsappGroupID
		}
		if target == "" {
			log.Warn("no whatsapp target for confirmation")
			return nil
		}
		if err := n.waha.SendMessage(ctx, target, WhatsappConfirmationText(c)); err != nil {
			return fmt.Errorf("whatsapp confirmation: %w", err)
		}
		log.Info("confirmation sent")
		return nil
	default:
		if !n.email.Enabled() {
			log.Debug("email not configured, skipping confirmation")
			return nil
		}
		if c.Email == "" {
			log.Warn("no customer email for confirmation")
			return nil
		}
		if err := n.email.SendPaymentConfirmation(c); err != nil {
			return fmt.Errorf("email confirmation: %w", err)
		}
		log.Info("confirmation sent")
		return nil
	}
}

func WhatsappConfirmationText(c Confirmation) string {
	txn := c.TransactionID
	if txn == "" {
		txn = c.OrderID
	}
	return fmt.Sprintf("Payment received for *%s*.\nSubjects: %s\nAmount paid: Rs. %s\nTransaction ID: %s",
		c.Batch, c.Subjects, c.NetAmount.StringFixed(2), txn)
}
