package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

var ErrPaymentNotFound = errors.New("payment not found")

// PaymentLedger appends to the payments table. payments.order_id is unique,
// so a second reconciliation of the same order cannot record twice.
type PaymentLedger struct {
	db *gorm.DB
}

func NewPaymentLedger(db *gorm.DB) *PaymentLedger {
	return &PaymentLedger{db: db}
}

func (l *PaymentLedger) WithTx(tx *gorm.DB) *PaymentLedger {
	return &PaymentLedger{db: tx}
}

func (l *PaymentLedger) Record(ctx context.Context, p *models.Payment) error {
	if err := l.db.WithContext(ctx).Create(p).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrAlreadyReconciled
		}
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

func (l *PaymentLedger) FindByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	if err := l.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}
