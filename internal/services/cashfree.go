package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	cashfreeSandboxURL    = "https://sandbox.cashfree.com/pg"
	cashfreeProductionURL = "https://api.cashfree.com/pg"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// CashfreeGateway talks to the Cashfree PG REST API.
type CashfreeGateway struct {
	baseURL      string
	environment  string
	clientID     string
	clientSecret string
	apiVersion   string
	client       *http.Client
	log          *zap.Logger
}

type CashfreeConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string
	APIVersion   string
	// BaseURL overrides the environment URL; used by tests.
	BaseURL string
}

func NewCashfreeGateway(cfg CashfreeConfig, log *zap.Logger) *CashfreeGateway {
	env := cfg.Environment
	base := cashfreeSandboxURL
	if env == "production" {
		base = cashfreeProductionURL
	} else {
		env = "sandbox"
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	return &CashfreeGateway{
		baseURL:      base,
		environment:  env,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		apiVersion:   cfg.APIVersion,
		client:       &http.Client{Timeout: 15 * time.Second},
		log:          log.Named("cashfree"),
	}
}

func (g *CashfreeGateway) Name() string        { return "cashfree" }
func (g *CashfreeGateway) Environment() string { return g.environment }

func (g *CashfreeGateway) makeRequest(ctx context.Context, op, method, endpoint string, payload interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", g.clientID)
	req.Header.Set("x-client-secret", g.clientSecret)
	req.Header.Set("x-api-version", g.apiVersion)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn("gateway request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

type cashfreeCreateOrderRequest struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails CustomerDetails `json:"customer_details"`
	OrderMeta       struct {
		ReturnURL string `json:"return_url,omitempty"`
		NotifyURL string `json:"notify_url,omitempty"`
	} `json:"order_meta"`
	OrderNote string `json:"order_note,omitempty"`
}

type cashfreeCreateOrderResponse struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
}

func (g *CashfreeGateway) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	req := cashfreeCreateOrderRequest{
		OrderID:         in.OrderID,
		OrderAmount:     json.Number(in.Amount.StringFixed(2)),
		OrderCurrency:   in.Currency,
		CustomerDetails: in.Customer,
		OrderNote:       in.Note,
	}
	req.OrderMeta.ReturnURL = in.ReturnURL
	req.OrderMeta.NotifyURL = in.NotifyURL

	body, err := g.makeRequest(ctx, "create order", http.MethodPost, "/orders", req)
	if err != nil {
		return nil, err
	}

	var resp cashfreeCreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode create order response: %w", err)
	}
	if resp.PaymentSessionID == "" {
		return nil, fmt.Errorf("gateway create order: missing payment_session_id")
	}
	return &CreatedOrder{
		OrderID:          resp.OrderID,
		PaymentSessionID: resp.PaymentSessionID,
		Raw:              body,
	}, nil
}

func (g *CashfreeGateway) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	body, err := g.makeRequest(ctx, "fetch order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	var order OrderStatus
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	order.Raw = body
	return &order, nil
}

func (g *CashfreeGateway) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	body, err := g.makeRequest(ctx, "fetch payments", http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	payments := make([]PaymentAttempt, 0, len(raws))
	for _, raw := range raws {
		var p PaymentAttempt
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		p.Raw = raw
		payments = append(payments, p)
	}
	return payments, nil
}

type cashfreeWebhook struct {
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	} `json:"data"`
}

// VerifyWebhook checks x-webhook-signature, the base64 HMAC-SHA256 of the
// timestamp header followed by the raw body, keyed with the client secret.
func (g *CashfreeGateway) VerifyWebhook(payload []byte, headers http.Header) (string, error) {
	signature := headers.Get("x-webhook-signature")
	timestamp := headers.Get("x-webhook-timestamp")
	if signature == "" || timestamp == "" {
		return "", ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(g.clientSecret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", ErrInvalidSignature
	}

	var hook cashfreeWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	if hook.Data.Order.OrderID == "" {
		return "", ErrMissingOrderID
	}
	return hook.Data.Order.OrderID, nil
}
