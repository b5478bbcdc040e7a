package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Order statuses reported by the gateway. Only PAID settles an order.
const (
	OrderStatusPaid       = "PAID"
	OrderStatusActive     = "ACTIVE"
	OrderStatusExpired    = "EXPIRED"
	OrderStatusTerminated = "TERMINATED"

	PaymentStatusSuccess = "SUCCESS"
)

// Gateway is the payment provider used for checkout and reconciliation.
type Gateway interface {
	Name() string
	Environment() string
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error)
	// FetchOrder is authoritative; callers must not guess a status on error.
	FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error)
	FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error)
	// VerifyWebhook checks the provider signature of a server-to-server
	// notification and returns the order id it refers to.
	VerifyWebhook(payload []byte, headers http.Header) (string, error)
}

// GatewayError is returned for non-2xx gateway responses.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

type CustomerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

type CreateOrderInput struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Customer  CustomerDetails
	ReturnURL string
	NotifyURL string
	Note      string
}

type CreatedOrder struct {
	OrderID          string
	PaymentSessionID string
	// RedirectURL is set by gateways that host their own checkout page.
	RedirectURL string
	Raw         json.RawMessage
}

type OrderSplit struct {
	VendorID   string          `json:"vendor_id"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

// OrderStatus is the gateway view of one order.
type OrderStatus struct {
	CFOrderID       FlexString      `json:"cf_order_id"`
	OrderID         string          `json:"order_id"`
	OrderStatus     string          `json:"order_status"`
	OrderAmount     decimal.Decimal `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails CustomerDetails `json:"customer_details"`
	OrderSplits     []OrderSplit    `json:"order_splits"`

	Raw json.RawMessage `json:"-"`
}

// IsPaid reports whether the gateway considers the order settled.
func (o OrderStatus) IsPaid() bool {
	return strings.EqualFold(o.OrderStatus, OrderStatusPaid)
}

// DiscountSplit returns the split tagged as a discount, if any.
func (o OrderStatus) DiscountSplit() (OrderSplit, bool) {
	for _, s := range o.OrderSplits {
		if strings.EqualFold(strings.TrimSpace(s.VendorID), "discount") && s.Amount.IsPositive() {
			return s, true
		}
	}
	return OrderSplit{}, false
}

// Offer is one entry of payment_offers/offers. Providers disagree on the
// amount field name, so Value checks all of them.
type Offer struct {
	OfferID        FlexString      `json:"offer_id"`
	OfferType      string          `json:"offer_type"`
	OfferCode      string          `json:"offer_code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OfferAmount    decimal.Decimal `json:"offer_amount"`
	Amount         decimal.Decimal `json:"amount"`
}

func (o Offer) Value() decimal.Decimal {
	for _, v := range []decimal.Decimal{o.DiscountAmount, o.OfferAmount, o.Amount} {
		if !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

func (o Offer) Code() string {
	if o.OfferCode != "" {
		return o.OfferCode
	}
	return string(o.OfferID)
}

// PaymentAttempt is one payment made against an order.
type PaymentAttempt struct {
	CFPaymentID   FlexString          `json:"cf_payment_id"`
	PaymentStatus string              `json:"payment_status"`
	PaymentAmount decimal.NullDecimal `json:"payment_amount"`
	PaymentTime   string              `json:"payment_time"`
	PaymentGroup  string              `json:"payment_group"`
	PaymentMethod PaymentMethod       `json:"payment_method"`
	PaymentOffers []Offer             `json:"payment_offers"`
	Offers        []Offer             `json:"offers"`
	BankReference string              `json:"bank_reference"`

	Raw json.RawMessage `json:"-"`
}

// AllOffers prefers payment_offers and falls back to offers.
func (p PaymentAttempt) AllOffers() []Offer {
	if len(p.PaymentOffers) > 0 {
		return p.PaymentOffers
	}
	return p.Offers
}

// SelectPayment picks the successful attempt, else the first one, else nil.
func SelectPayment(payments []PaymentAttempt) *PaymentAttempt {
	for i := range payments {
		if strings.EqualFold(payments[i].PaymentStatus, PaymentStatusSuccess) {
			return &payments[i]
		}
	}
	if len(payments) > 0 {
		return &payments[0]
	}
	return nil
}

// PaymentMethodKind tags the populated variant of a payment_method object.
type PaymentMethodKind string

const (
	PaymentMethodUPI        PaymentMethodKind = "upi"
	PaymentMethodNetbanking PaymentMethodKind = "netbanking"
	PaymentMethodCard       PaymentMethodKind = "card"
	PaymentMethodUnknown    PaymentMethodKind = "unknown"
)

type UPIMethod struct {
	Channel string `json:"channel"`
	UPIID   string `json:"upi_id"`
	UTR     string `json:"utr"`
}

type NetbankingMethod struct {
	BankCode      FlexString `json:"netbanking_bank_code"`
	BankName      string     `json:"netbanking_bank_name"`
	BankReference string     `json:"bank_reference"`
}

type CardMethod struct {
	Network       string `json:"card_network"`
	CardType      string `json:"card_type"`
	BankName      string `json:"card_bank_name"`
	BankReference string `json:"bank_reference"`
}

// PaymentMethod holds whichever method sub-object the gateway populated.
type PaymentMethod struct {
	UPI        *UPIMethod        `json:"upi,omitempty"`
	Netbanking *NetbankingMethod `json:"netbanking,omitempty"`
	Card       *CardMethod       `json:"card,omitempty"`
}

// Kind returns the first populated variant in UPI, netbanking, card order.
func (m PaymentMethod) Kind() PaymentMethodKind {
	switch {
	case m.UPI != nil:
		return PaymentMethodUPI
	case m.Netbanking != nil:
		return PaymentMethodNetbanking
	case m.Card != nil:
		return PaymentMethodCard
	}
	return PaymentMethodUnknown
}

// reference returns the settlement reference carried by one variant.
func (m PaymentMethod) reference(kind PaymentMethodKind) string {
	switch kind {
	case PaymentMethodUPI:
		if m.UPI != nil {
			return m.UPI.UTR
		}
	case PaymentMethodNetbanking:
		if m.Netbanking != nil {
			return m.Netbanking.BankReference
		}
	case PaymentMethodCard:
		if m.Card != nil {
			return m.Card.BankReference
		}
	}
	return ""
}

var utrPreference = []PaymentMethodKind{PaymentMethodUPI, PaymentMethodNetbanking, PaymentMethodCard}

// ExtractUTR returns the first non-empty settlement reference in UPI,
// netbanking, card order, or nil.
func ExtractUTR(p *PaymentAttempt) *string {
	if p == nil {
		return nil
	}
	for _, kind := range utrPreference {
		if ref := strings.TrimSpace(p.PaymentMethod.reference(kind)); ref != "" {
			return &ref
		}
	}
	return nil
}

// FlexString accepts both JSON strings and numbers. Gateways have changed
// id fields between the two across API versions.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}
