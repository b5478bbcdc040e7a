package services

import (
	"strings"

	"edulearn_app_echo/internal/models"
)

// EnrollmentAction is the call to action a client should offer.
type EnrollmentAction string

const (
	ActionEnroll          EnrollmentAction = "enroll"
	ActionCompletePayment EnrollmentAction = "complete_payment"
	ActionUpgrade         EnrollmentAction = "upgrade"
	ActionAlreadyEnrolled EnrollmentAction = "already_enrolled"
)

type EnrollmentState struct {
	IsMainCourseOwned bool             `json:"is_main_course_owned"`
	OwnedAddons       []string         `json:"owned_addons"`
	IsFullyEnrolled   bool             `json:"is_fully_enrolled"`
	HasPending        bool             `json:"has_pending"`
	PendingOrderID    string           `json:"pending_order_id,omitempty"`
	Action            EnrollmentAction `json:"action"`
}

// ComputeEnrollmentState derives ownership flags from a user's enrollment
// rows for one course. Failed rows are ignored.
func ComputeEnrollmentState(rows []models.Enrollment, addons []models.CourseAddon) EnrollmentState {
	state := EnrollmentState{OwnedAddons: []string{}}
	owned := make(map[string]struct{})

	for _, row := range rows {
		if !row.Holds() {
			continue
		}
		if row.Status == models.EnrollmentStatusPending {
			state.HasPending = true
			if state.PendingOrderID == "" {
				state.PendingOrderID = row.OrderID
			}
		}
		if row.IsMainCourse() {
			state.IsMainCourseOwned = true
			continue
		}
		state.OwnedAddons = append(state.OwnedAddons, *row.SubjectName)
		owned[strings.ToLower(strings.TrimSpace(*row.SubjectName))] = struct{}{}
	}

	state.IsFullyEnrolled = state.IsMainCourseOwned
	for _, addon := range addons {
		if !state.IsFullyEnrolled {
			break
		}
		_, byName := owned[strings.ToLower(strings.TrimSpace(addon.SubjectName))]
		_, byID := owned[strings.ToLower(addon.ID)]
		if !byName && !byID {
			state.IsFullyEnrolled = false
		}
	}

	switch {
	case state.HasPending:
		state.Action = ActionCompletePayment
	case state.IsFullyEnrolled:
		state.Action = ActionAlreadyEnrolled
	case state.IsMainCourseOwned:
		state.Action = ActionUpgrade
	default:
		state.Action = ActionEnroll
	}
	return state
}
