package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	authMiddleware "edulearn_app_echo/internal/middleware"
	"edulearn_app_echo/internal/services"
)

type EnrollmentHandler struct {
	catalog     *services.Catalog
	enrollments *services.EnrollmentStore
	log         *zap.Logger
}

func NewEnrollmentHandler(catalog *services.Catalog, enrollments *services.EnrollmentStore, log *zap.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{catalog: catalog, enrollments: enrollments, log: log.Named("enrollments")}
}

type enrollRequest struct {
	// Subject selects a free add-on by id or name; empty enrolls in the course.
	Subject string `json:"subject"`
}

// Enroll grants a free course or free add-on to the caller.
func (h *EnrollmentHandler) Enroll(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}

	var req enrollRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("invalid JSON body"))
		}
	}
	var subject *string
	if s := strings.TrimSpace(req.Subject); s != "" {
		subject = &s
	}

	row, err := h.enrollments.GrantFree(c.Request().Context(), uid, c.Param("id"), subject)
	switch {
	case errors.Is(err, services.ErrAlreadyEnrolled):
		return c.JSON(http.StatusOK, map[string]string{"status": "already_enrolled"})
	case errors.Is(err, services.ErrCourseNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, services.ErrCourseNotFree), errors.Is(err, services.ErrUnknownAddon):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case err != nil:
		h.log.Error("grant free enrollment failed", zap.String("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not enroll"))
	}

	h.log.Info("free enrollment granted", zap.String("user_id", uid), zap.String("course_id", row.CourseID))
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"status":     "enrolled",
		"enrollment": newEnrollmentView(*row),
	})
}

// State returns the caller's enrollment state for one course.
func (h *EnrollmentHandler) State(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}
	ctx := c.Request().Context()

	course, err := h.catalog.GetCourse(ctx, c.Param("id"))
	if errors.Is(err, services.ErrCourseNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	}
	if err != nil {
		h.log.Error("load course failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not load course"))
	}

	addons, err := h.catalog.ListAddons(ctx, course.ID)
	if err != nil {
		h.log.Error("list addons failed", zap.String("course_id", course.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not load course"))
	}
	rows, err := h.enrollments.ListByUserCourse(ctx, uid, course.ID)
	if err != nil {
		h.log.Error("list enrollments failed", zap.String("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not load enrollments"))
	}

	return c.JSON(http.StatusOK, EnrollmentStateResponse{
		EnrollmentState: services.ComputeEnrollmentState(rows, addons),
		CourseID:        course.ID,
		StartingPrice:   services.StartingPrice(*course, addons).StringFixed(2),
	})
}

// List returns every enrollment of the caller, newest first.
func (h *EnrollmentHandler) List(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}

	rows, err := h.enrollments.ListByUser(c.Request().Context(), uid)
	if err != nil {
		h.log.Error("list enrollments failed", zap.String("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("could not load enrollments"))
	}

	views := make([]EnrollmentView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newEnrollmentView(row))
	}
	return c.JSON(http.StatusOK, views)
}
