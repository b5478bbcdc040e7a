package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authMiddleware "edulearn_app_echo/internal/middleware"
	"edulearn_app_echo/internal/models"
)

type UserPreferenceHandler struct {
	DB  *gorm.DB
	log *zap.Logger
}

func NewUserPreferenceHandler(db *gorm.DB, log *zap.Logger) *UserPreferenceHandler {
	return &UserPreferenceHandler{DB: db, log: log.Named("preferences")}
}

// GetUserPreference returns the caller's confirmation channel, defaulting to
// email when nothing is stored.
func (h *UserPreferenceHandler) GetUserPreference(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}

	var pref models.UserNotifPreference
	err := h.DB.WithContext(c.Request().Context()).Where("user_id = ?", uid).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = models.DefaultNotifPreference(uid)
	} else if err != nil {
		h.log.Error("fetch preference failed", zap.String("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("error fetching preference"))
	}
	return c.JSON(http.StatusOK, pref)
}

// UpdateUserPreference upserts the caller's preference.
func (h *UserPreferenceHandler) UpdateUserPreference(c echo.Context) error {
	uid := authMiddleware.UserUID(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
	}

	var req PreferenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid JSON body"))
	}

	db := h.DB.WithContext(c.Request().Context())
	var pref models.UserNotifPreference
	err := db.Where("user_id = ?", uid).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pref = models.UserNotifPreference{UserID: uid}
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("database error"))
	}

	pref.Channel = req.Channel
	pref.WhatsappTargetType = req.WhatsappTargetType
	pref.WhatsappGroupID = req.WhatsappGroupID
	if pref.Channel == models.NotificationChannelWhatsapp && pref.WhatsappTargetType == "" {
		pref.WhatsappTargetType = models.WhatsappTargetTypePersonal
	}
	if !pref.Valid() {
		return c.JSON(http.StatusBadRequest, errorBody("invalid notification preference"))
	}

	if err := db.Save(&pref).Error; err != nil {
		h.log.Error("save preference failed", zap.String("user_id", uid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to save preference"))
	}
	return c.JSON(http.StatusOK, pref)
}
