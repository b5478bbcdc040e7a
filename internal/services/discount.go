package services

import (
	"github.com/shopspring/decimal"
)

type DiscountSource string

const (
	DiscountSourceNone     DiscountSource = ""
	DiscountSourceOffer    DiscountSource = "offer"
	DiscountSourceSplit    DiscountSource = "order_split"
	DiscountSourceInferred DiscountSource = "inferred"
)

// Discount is the reconciled discount of one order.
type Discount struct {
	Applied    bool
	Type       string
	Value      decimal.Decimal
	CouponCode string
	NetAmount  decimal.Decimal
	Source     DiscountSource
}

// ReconcileDiscount applies the three fallback tiers in order: explicit
// offers on the payment, a discount split on the order, then an inferred
// flat discount when less was paid than ordered.
func ReconcileDiscount(order *OrderStatus, payment *PaymentAttempt) Discount {
	orderAmount := decimal.Zero
	if order != nil {
		orderAmount = order.OrderAmount
	}

	if payment != nil {
		if offers := payment.AllOffers(); len(offers) > 0 {
			offer := offers[0]
			net := orderAmount
			if payment.PaymentAmount.Valid {
				net = payment.PaymentAmount.Decimal
			}
			kind := offer.OfferType
			if kind == "" {
				kind = "offer"
			}
			return Discount{
				Applied:    true,
				Type:       kind,
				Value:      offer.Value(),
				CouponCode: offer.Code(),
				NetAmount:  net,
				Source:     DiscountSourceOffer,
			}
		}
	}

	if order != nil {
		if split, ok := order.DiscountSplit(); ok {
			return Discount{
				Applied:   true,
				Type:      "order_split",
				Value:     split.Amount,
				NetAmount: orderAmount.Sub(split.Amount),
				Source:    DiscountSourceSplit,
			}
		}
	}

	if payment != nil && payment.PaymentAmount.Valid && payment.PaymentAmount.Decimal.LessThan(orderAmount) {
		return Discount{
			Applied:   true,
			Type:      "flat",
			Value:     orderAmount.Sub(payment.PaymentAmount.Decimal),
			NetAmount: payment.PaymentAmount.Decimal,
			Source:    DiscountSourceInferred,
		}
	}

	return Discount{NetAmount: orderAmount, Source: DiscountSourceNone}
}
