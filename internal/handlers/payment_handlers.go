package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	authMiddleware "edulearn_app_echo/internal/middleware"
	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/services"
)

const maxWebhookBody = 1 << 20

// Reconciler settles one order against the gateway.
type Reconciler interface {
	Reconcile(ctx context.Context, orderID string, opts services.ReconcileOptions) (services.Outcome, error)
}

// OrderCreator opens checkout orders for the authenticated user.
type OrderCreator interface {
	CreateOrder(ctx context.Context, authUserID string, req services.CreateOrderRequest) (*services.CreateOrderResult, error)
}

// WebhookVerifier authenticates gateway notifications.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, headers http.Header) (string, error)
}

// OrderEnrollments lists the enrollment rows written for an order.
type OrderEnrollments interface {
	ListByOrder(ctx context.Context, orderID string) ([]models.Enrollment, error)
}

type PaymentHandler struct {
	reconciler   Reconciler
	orders       OrderCreator
	webhooks     WebhookVerifier
	enrollments  OrderEnrollments
	frontendURL  string
	allowedHosts []string
	log          *zap.Logger
}

type PaymentHandlerDeps struct {
	Reconciler  Reconciler
	Orders      OrderCreator
	Webhooks    WebhookVerifier
	Enrollments OrderEnrollments
	Log         *zap.Logger
}

type PaymentHandlerConfig struct {
	FrontendURL string
	// AllowedRedirectHosts limits redirect_url hosts; empty allows any.
	AllowedRedirectHosts []string
}

func NewPaymentHandler(deps PaymentHandlerDeps, cfg PaymentHandlerConfig) *PaymentHandler {
	return &PaymentHandler{
		reconciler:   deps.Reconciler,
		orders:       deps.Orders,
		webhooks:     deps.Webhooks,
		enrollments:  deps.Enrollments,
		frontendURL:  strings.TrimRight(cfg.FrontendURL, "/"),
		allowedHosts: cfg.AllowedRedirectHosts,
		log:          deps.Log.Named("payments"),
	}
}

// VerifyPayment is the gateway return URL. It always answers with a 302 to
// {frontend}/dashboard?payment=success|failed|error.
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	orderID := strings.TrimSpace(c.QueryParam("order_id"))
	base := h.ResolveRedirect(c.QueryParam("redirect_url"))

	status := services.StatusError
	if orderID == "" {
		h.log.Warn("verify called without order_id")
	} else {
		out, err := h.reconciler.Reconcile(c.Request().Context(), orderID, services.ReconcileOptions{Source: "redirect"})
		if err != nil {
			h.log.Error("reconciliation failed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			status = out.Status
		}
	}

	return c.Redirect(http.StatusFound, dashboardURL(base, status))
}

// ResolveRedirect decodes redirect_url and returns it when it is an absolute
// http(s) URL on an allowed host, else the configured frontend URL.
func (h *PaymentHandler) ResolveRedirect(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.frontendURL
	}
	// QueryParam already decoded once; only a value that is still escaped
	// (double encoded by the caller) is decoded again.
	if !strings.Contains(raw, "://") {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		h.log.Warn("ignoring malformed redirect_url", zap.String("redirect_url", raw))
		return h.frontendURL
	}
	if len(h.allowedHosts) > 0 && !containsFold(h.allowedHosts, u.Host) {
		h.log.Warn("redirect_url host not allowed", zap.String("host", u.Host))
		return h.frontendURL
	}
	return strings.TrimRight(raw, "/")
}

func dashboardURL(base, status string) string {
	if status != services.StatusSuccess && status != services.StatusFailed {
		status = services.StatusError
	}
	return base + "/dashboard?payment=" + status
}

// Webhook receives server-to-server payment notifications and runs the same
// reconciliation as the browser redirect.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	if h.webhooks == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webhooks are not configured")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	orderID, err := h.webhooks.VerifyWebhook(body, c.Request().Header)
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		h.log.Warn("webhook signature rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out, err := h.reconciler.Reconcile(c.Request().Context(), orderID, services.ReconcileOptions{Source: "webhook"})
	if err != nil {
		h.log.Error("webhook reconciliation failed", zap.String("order_id", orderID), zap.Error(err))
		// Non-2xx makes the gateway redeliver.
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reconciliation failed")
	}
	if !out.Recorded() {
		h.log.Warn("webhook result not stored, asking for redelivery",
			zap.String("order_id", orderID), zap.String("status", out.Status), zap.Bool("locked", out.Locked))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reconciliation not stored")
	}
	return c.JSON(http.StatusOK, map[string]string{"order_id": orderID, "status": out.Status})
}

// CreateOrder opens a gateway order for the authenticated user.
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}

	var req services.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid JSON body"))
	}
	if req.CustomerEmail == "" {
		req.CustomerEmail = authMiddleware.UserEmail(c)
	}

	result, err := h.orders.CreateOrder(c.Request().Context(), uid, req)
	if err != nil {
		code := orderErrorStatus(err)
		if code >= http.StatusInternalServerError {
			h.log.Error("create order failed", zap.String("user_id", uid), zap.Error(err))
		}
		return c.JSON(code, errorBody(orderErrorMessage(err, code)))
	}
	return c.JSON(http.StatusOK, result)
}

// OrderStatus reports the caller's enrollment rows for one order. With
// refresh=true and rows still pending, the order is reconciled first; an
// order the gateway still reports ACTIVE stays pending.
func (h *PaymentHandler) OrderStatus(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}
	orderID := strings.TrimSpace(c.QueryParam("order_id"))
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, errorBody(services.ErrMissingOrderID.Error()))
	}
	ctx := c.Request().Context()

	rows, err := h.ownRows(ctx, uid, orderID)
	if err != nil {
		h.log.Error("list order enrollments failed", zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not load order"))
	}
	if len(rows) == 0 {
		return c.JSON(http.StatusNotFound, errorBody("order not found"))
	}

	if c.QueryParam("refresh") == "true" && orderStatusOf(rows) == string(models.EnrollmentStatusPending) {
		if _, err := h.reconciler.Reconcile(ctx, orderID, services.ReconcileOptions{KeepActivePending: true, Source: "status"}); err != nil {
			// Fall through to the stored state.
			h.log.Warn("status refresh failed", zap.String("order_id", orderID), zap.Error(err))
		} else if rows, err = h.ownRows(ctx, uid, orderID); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody("could not load order"))
		}
	}

	views := make([]EnrollmentView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newEnrollmentView(row))
	}
	return c.JSON(http.StatusOK, OrderStatusResponse{
		OrderID:     orderID,
		Status:      orderStatusOf(rows),
		Enrollments: views,
	})
}

func (h *PaymentHandler) ownRows(ctx context.Context, uid, orderID string) ([]models.Enrollment, error) {
	rows, err := h.enrollments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	own := rows[:0]
	for _, row := range rows {
		if row.UserID == uid {
			own = append(own, row)
		}
	}
	return own, nil
}

// orderStatusOf folds the row statuses of one order: any pending row keeps
// the order pending, then success when every row is settled.
func orderStatusOf(rows []models.Enrollment) string {
	settled := 0
	for _, row := range rows {
		if row.Status == models.EnrollmentStatusPending {
			return string(models.EnrollmentStatusPending)
		}
		if row.Settled() {
			settled++
		}
	}
	if settled == len(rows) {
		return services.StatusSuccess
	}
	return services.StatusFailed
}

func orderErrorStatus(err error) int {
	var gwErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrCourseNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyEnrolled), errors.Is(err, services.ErrNothingToPurchase):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, services.ErrInvalidPhone),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrUnknownAddon):
		return http.StatusBadRequest
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func orderErrorMessage(err error, code int) string {
	switch code {
	case http.StatusBadGateway:
		return "payment gateway rejected the order"
	case http.StatusInternalServerError:
		return "could not create order"
	}
	return err.Error()
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
