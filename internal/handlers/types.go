package handlers

import (
	"time"

	"edulearn_app_echo/internal/models"
	"edulearn_app_echo/internal/services"
)

// ErrorBody is the {error} payload of the order and enrollment endpoints.
type ErrorBody struct {
	Error string `json:"error"`
}

func errorBody(msg string) ErrorBody {
	return ErrorBody{Error: msg}
}

// EnrollmentStateResponse is the enrollment state of the caller for one
// course plus the catalog "starts at" price.
type EnrollmentStateResponse struct {
	services.EnrollmentState
	CourseID      string `json:"course_id"`
	StartingPrice string `json:"starting_price"`
}

// EnrollmentView is one row of GET /enrollments.
type EnrollmentView struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	SubjectName *string   `json:"subject_name"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	OrderID     string    `json:"order_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newEnrollmentView(e models.Enrollment) EnrollmentView {
	return EnrollmentView{
		ID:          e.ID,
		CourseID:    e.CourseID,
		CourseTitle: e.Course.Title,
		SubjectName: e.SubjectName,
		Amount:      e.Amount.StringFixed(2),
		Status:      string(e.Status),
		OrderID:     e.OrderID,
		CreatedAt:   e.CreatedAt,
	}
}

// OrderStatusResponse is the body of GET /functions/order-status.
type OrderStatusResponse struct {
	OrderID     string           `json:"order_id"`
	Status      string           `json:"status"`
	Enrollments []EnrollmentView `json:"enrollments"`
}

// PreferenceRequest is the body of PUT /me/notification-preference.
type PreferenceRequest struct {
	Channel            models.NotificationChannel `json:"channel"`
	WhatsappTargetType string                     `json:"whatsapp_target_type"`
	WhatsappGroupID    string                     `json:"whatsapp_group_id"`
}
