package handlers

import (
	"github.com/labstack/echo/v4"

	"edulearn_app_echo/internal/services"
)

// Routes groups the handlers mounted by the server.
type Routes struct {
	Payments    *PaymentHandler
	Enrollments *EnrollmentHandler
	Preferences *UserPreferenceHandler
	Health      *HealthHandler
}

// Register mounts every endpoint on e. Authenticated endpoints go through auth.
func (r Routes) Register(e *echo.Echo, auth echo.MiddlewareFunc) {
	e.GET("/healthz", r.Health.Health)

	// Gateway-facing endpoints
	e.GET(services.VerifyPath, r.Payments.VerifyPayment)
	e.POST(services.WebhookPath, r.Payments.Webhook)

	protected := e.Group("", auth)
	protected.POST("/functions/create-cashfree-order", r.Payments.CreateOrder)
	protected.GET("/functions/order-status", r.Payments.OrderStatus)

	protected.POST("/courses/:id/enroll", r.Enrollments.Enroll)
	protected.GET("/courses/:id/enrollment", r.Enrollments.State)
	protected.GET("/enrollments", r.Enrollments.List)

	protected.GET("/me/notification-preference", r.Preferences.GetUserPreference)
	protected.PUT("/me/notification-preference", r.Preferences.UpdateUserPreference)
}
