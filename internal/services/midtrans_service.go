package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
)

// MidtransGateway adapts Midtrans Snap (checkout) and Core API (status) to
// the Gateway interface.
type MidtransGateway struct {
	serverKey   string
	environment midtrans.EnvironmentType
	snapClient  snap.Client
	coreClient  coreapi.Client
}

func NewMidtransGateway(serverKey, clientKey string, production bool) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	// Set Default Options
	midtrans.ServerKey = serverKey
	midtrans.ClientKey = clientKey
	midtrans.Environment = env

	return &MidtransGateway{
		serverKey:   serverKey,
		environment: env,
		snapClient:  s,
		coreClient:  c,
	}
}

func (g *MidtransGateway) Name() string { return "midtrans" }

func (g *MidtransGateway) Environment() string {
	if g.environment == midtrans.Production {
		return "production"
	}
	return "sandbox"
}

// CreateOrder creates a Snap transaction. The Snap token plays the role of
// the payment session id.
func (g *MidtransGateway) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  in.OrderID,
			GrossAmt: in.Amount.Round(0).IntPart(),
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: in.Customer.CustomerName,
			Email: in.Customer.CustomerEmail,
			Phone: in.Customer.CustomerPhone,
		},
		Callbacks: &snap.Callbacks{
			Finish: in.ReturnURL,
		},
	}

	resp, mErr := g.snapClient.CreateTransaction(req)
	if mErr != nil {
		return nil, &GatewayError{Op: "create order", StatusCode: mErr.StatusCode, Body: mErr.Message}
	}

	raw, _ := json.Marshal(resp)
	return &CreatedOrder{
		OrderID:          in.OrderID,
		PaymentSessionID: resp.Token,
		RedirectURL:      resp.RedirectURL,
		Raw:              raw,
	}, nil
}

func (g *MidtransGateway) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	resp, mErr := g.coreClient.CheckTransaction(orderID)
	if mErr != nil {
		// Snap orders are unknown to the core API until a payment is attempted.
		if mErr.StatusCode == http.StatusNotFound {
			return &OrderStatus{OrderID: orderID, OrderStatus: OrderStatusActive}, nil
		}
		return nil, &GatewayError{Op: "fetch order", StatusCode: mErr.StatusCode, Body: mErr.Message}
	}

	raw, _ := json.Marshal(resp)
	amount, _ := decimal.NewFromString(resp.GrossAmount)
	return &OrderStatus{
		CFOrderID:   FlexString(resp.TransactionID),
		OrderID:     resp.OrderID,
		OrderStatus: midtransOrderStatus(resp.TransactionStatus, resp.FraudStatus),
		OrderAmount: amount,
		Raw:         raw,
	}, nil
}

// FetchPayments synthesizes a single attempt from the transaction status;
// Midtrans has no per-order payment listing.
func (g *MidtransGateway) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	resp, mErr := g.coreClient.CheckTransaction(orderID)
	if mErr != nil {
		return nil, &GatewayError{Op: "fetch payments", StatusCode: mErr.StatusCode, Body: mErr.Message}
	}

	status := resp.TransactionStatus
	if midtransOrderStatus(resp.TransactionStatus, resp.FraudStatus) == OrderStatusPaid {
		status = PaymentStatusSuccess
	}
	paidAt := resp.SettlementTime
	if paidAt == "" {
		paidAt = resp.TransactionTime
	}

	raw, _ := json.Marshal(resp)
	attempt := PaymentAttempt{
		CFPaymentID:   FlexString(resp.TransactionID),
		PaymentStatus: status,
		PaymentTime:   paidAt,
		PaymentGroup:  resp.PaymentType,
		Raw:           raw,
	}
	if amount, err := decimal.NewFromString(resp.GrossAmount); err == nil {
		attempt.PaymentAmount = decimal.NewNullDecimal(amount)
	}
	return []PaymentAttempt{attempt}, nil
}

type midtransNotification struct {
	OrderID      string `json:"order_id"`
	StatusCode   string `json:"status_code"`
	GrossAmount  string `json:"gross_amount"`
	SignatureKey string `json:"signature_key"`
}

// VerifyWebhook checks signature_key = SHA512(order_id + status_code +
// gross_amount + server key).
func (g *MidtransGateway) VerifyWebhook(payload []byte, headers http.Header) (string, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return "", fmt.Errorf("decode notification: %w", err)
	}
	if n.OrderID == "" {
		return "", ErrMissingOrderID
	}

	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + g.serverKey))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) != 1 {
		return "", ErrInvalidSignature
	}
	return n.OrderID, nil
}

func midtransOrderStatus(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "settlement":
		return OrderStatusPaid
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return OrderStatusPaid
		}
		return OrderStatusActive
	case "deny", "cancel", "failure":
		return OrderStatusTerminated
	case "expire":
		return OrderStatusExpired
	}
	return OrderStatusActive
}
