package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

var ErrInvalidRequest = errors.New("invalid request")

const (
	VerifyPath  = "/functions/verify-cashfree-payment"
	WebhookPath = "/functions/payment-webhook"
)

type CreateOrderRequest struct {
	CourseID         string          `json:"courseId" validate:"required,uuid"`
	Amount           decimal.Decimal `json:"amount"`
	UserID           string          `json:"userId" validate:"required"`
	CustomerName     string          `json:"customerName"`
	CustomerEmail    string          `json:"customerEmail" validate:"required,email"`
	CustomerPhone    string          `json:"customerPhone" validate:"required,numeric"`
	DialCode         string          `json:"dialCode" validate:"required,dialcode"`
	SelectedSubjects []string        `json:"selectedSubjects" validate:"dive,required"`
	RedirectURL      string          `json:"redirectUrl" validate:"omitempty,url"`
}

type CreateOrderResult struct {
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	Environment      string `json:"environment"`
	VerifyURL        string `json:"verifyUrl"`
	RedirectURL      string `json:"redirect_url,omitempty"`
	Amount           string `json:"amount"`
}

type OrderServiceConfig struct {
	PublicAPIURL string
	FrontendURL  string
	Currency     string
}

// OrderService opens gateway orders and writes the matching pending
// enrollments.
type OrderService struct {
	db          *gorm.DB
	gateway     Gateway
	catalog     *Catalog
	enrollments *EnrollmentStore
	cfg         OrderServiceConfig
	validate    *validator.Validate
	log         *zap.Logger
}

func NewOrderService(db *gorm.DB, gateway Gateway, catalog *Catalog, enrollments *EnrollmentStore, cfg OrderServiceConfig, log *zap.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &OrderService{
		db:          db,
		gateway:     gateway,
		catalog:     catalog,
		enrollments: enrollments,
		cfg:         cfg,
		validate:    newValidator(),
		log:         log.Named("orders"),
	}
}

// Validate checks the request shape. Phone problems map to ErrInvalidPhone.
func (s *OrderService) Validate(req CreateOrderRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Tag() == "phonelen" || fe.Tag() == "dialcode" || fe.Field() == "CustomerPhone" {
				return ErrInvalidPhone
			}
			fields = append(fields, fe.Field())
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// mainItemKey stands for the base course in PaymentSession.ItemsKey; add-ons
// use their id.
const mainItemKey = "main"

type purchaseItem struct {
	subject *string
	key     string
	price   decimal.Decimal
}

func (s *OrderService) CreateOrder(ctx context.Context, authUserID string, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	if req.UserID != authUserID {
		return nil, ErrForbidden
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	course, err := s.catalog.GetCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	addons, err := s.catalog.ListAddons(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	existing, err := s.enrollments.ListByUserCourse(ctx, req.UserID, course.ID)
	if err != nil {
		return nil, err
	}

	items, amount, err := s.purchaseItems(*course, addons, existing, req.SelectedSubjects)
	if err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("user_id", req.UserID), zap.String("course_id", course.ID))
	if !amount.Equal(req.Amount) {
		log.Warn("client amount differs from quote, charging quote",
			zap.String("client_amount", req.Amount.String()),
			zap.String("quote", amount.String()))
	}

	itemsKey := itemsKeyOf(items)
	if result, ok := s.resumeSession(ctx, req.UserID, course.ID, itemsKey, amount); ok {
		log.Info("resuming checkout", zap.String("order_id", result.OrderID))
		return result, nil
	}

	orderID := "EL_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	verifyURL := s.verifyURL(orderID, req.RedirectURL)

	input := CreateOrderInput{
		OrderID:  orderID,
		Amount:   amount,
		Currency: s.cfg.Currency,
		Customer: CustomerDetails{
			CustomerID:    req.UserID,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: FormatPhone(req.DialCode, req.CustomerPhone),
		},
		ReturnURL: verifyURL,
		NotifyURL: s.cfg.PublicAPIURL + WebhookPath,
		Note:      course.Title,
	}
	created, err := s.gateway.CreateOrder(ctx, input)
	if err != nil {
		log.Error("gateway create order failed", zap.Error(err))
		return nil, err
	}

	reqMeta, _ := json.Marshal(input)
	session := models.PaymentSession{
		UserID:           req.UserID,
		CourseID:         course.ID,
		ItemsKey:         itemsKey,
		PaymentGateway:   models.PaymentGateway(s.gateway.Name()),
		OrderID:          orderID,
		PaymentSessionID: created.PaymentSessionID,
		RedirectURL:      created.RedirectURL,
		Amount:           amount,
		IsActive:         true,
		RequestMetadata:  datatypes.JSON(reqMeta),
		ResponseMetadata: datatypes.JSON(created.Raw),
	}
	if len(session.ResponseMetadata) == 0 {
		session.ResponseMetadata = datatypes.JSON("{}")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("store payment session: %w", err)
		}
		store := s.enrollments.WithTx(tx)
		var superseded []string
		for _, item := range items {
			row := &models.Enrollment{
				UserID:      req.UserID,
				CourseID:    course.ID,
				SubjectName: item.subject,
				Amount:      item.price,
				OrderID:     orderID,
			}
			movedFrom, err := store.ClaimPending(ctx, row)
			if err != nil {
				return err
			}
			if movedFrom != "" {
				superseded = append(superseded, movedFrom)
			}
		}
		// An order that lost rows can no longer grant what it was created for.
		return DeactivateSessions(ctx, tx, superseded)
	})
	if err != nil {
		log.Error("persist order failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	log.Info("order created", zap.String("order_id", orderID), zap.String("amount", amount.String()))
	return &CreateOrderResult{
		OrderID:          orderID,
		PaymentSessionID: created.PaymentSessionID,
		Environment:      s.gateway.Environment(),
		VerifyURL:        verifyURL,
		RedirectURL:      created.RedirectURL,
		Amount:           amount.StringFixed(2),
	}, nil
}

// purchaseItems lists what still has to be bought: the main course unless
// already settled, plus each selected add-on not already settled.
func (s *OrderService) purchaseItems(course models.Course, addons []models.CourseAddon, existing []models.Enrollment, selected []string) ([]purchaseItem, decimal.Decimal, error) {
	ownsMain := false
	owned := map[string]struct{}{}
	for _, row := range existing {
		if !row.Settled() {
			continue
		}
		if row.IsMainCourse() {
			ownsMain = true
			continue
		}
		owned[strings.ToLower(strings.TrimSpace(*row.SubjectName))] = struct{}{}
	}

	var chosen []models.CourseAddon
	seen := map[string]struct{}{}
	for _, ref := range selected {
		addon, ok := MatchAddon(addons, ref)
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAddon, ref)
		}
		if _, dup := seen[addon.ID]; dup {
			continue
		}
		seen[addon.ID] = struct{}{}
		_, byName := owned[strings.ToLower(strings.TrimSpace(addon.SubjectName))]
		_, byID := owned[strings.ToLower(addon.ID)]
		if byName || byID {
			continue
		}
		chosen = append(chosen, addon)
	}

	var items []purchaseItem
	if !ownsMain {
		items = append(items, purchaseItem{key: mainItemKey, price: course.EffectivePrice()})
	}
	for _, a := range chosen {
		name := a.SubjectName
		items = append(items, purchaseItem{subject: &name, key: a.ID, price: a.Price})
	}
	if len(items) == 0 {
		return nil, decimal.Zero, ErrNothingToPurchase
	}

	amount := Quote(course, chosen, ownsMain)
	if !amount.IsPositive() {
		return nil, decimal.Zero, ErrInvalidAmount
	}
	return items, amount, nil
}

func itemsKeyOf(items []purchaseItem) string {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.key)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// resumeSession returns a still-open checkout for the same items, so a user
// returning to the page pays the order they already started.
func (s *OrderService) resumeSession(ctx context.Context, userID, courseID, itemsKey string, amount decimal.Decimal) (*CreateOrderResult, bool) {
	var session models.PaymentSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND items_key = ? AND is_active = ? AND payment_gateway = ?",
			userID, courseID, itemsKey, true, s.gateway.Name()).
		Order("created_at desc").
		First(&session).Error
	if err != nil {
		return nil, false
	}

	log := s.log.With(zap.String("order_id", session.OrderID))
	if !session.Amount.Equal(amount) {
		s.deactivate(ctx, &session)
		return nil, false
	}

	var held int64
	err = s.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("order_id = ? AND status = ?", session.OrderID, models.EnrollmentStatusPending).
		Count(&held).Error
	if err != nil {
		log.Warn("count session enrollments failed", zap.Error(err))
		return nil, false
	}
	if int(held) != len(splitItemsKey(session.ItemsKey)) {
		log.Info("session no longer holds its enrollments, starting a new order")
		s.deactivate(ctx, &session)
		return nil, false
	}

	order, err := s.gateway.FetchOrder(ctx, session.OrderID)
	if err != nil {
		log.Warn("check existing session failed", zap.Error(err))
		return nil, false
	}
	if !strings.EqualFold(order.OrderStatus, OrderStatusActive) {
		s.deactivate(ctx, &session)
		return nil, false
	}

	return &CreateOrderResult{
		OrderID:          session.OrderID,
		PaymentSessionID: session.PaymentSessionID,
		Environment:      s.gateway.Environment(),
		VerifyURL:        s.verifyURL(session.OrderID, ""),
		RedirectURL:      session.RedirectURL,
		Amount:           session.Amount.StringFixed(2),
	}, true
}

func splitItemsKey(key string) []string {
	var keys []string
	for _, k := range strings.Split(key, "|") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// DeactivateSessions stops the checkouts of orderIDs from being resumed.
func DeactivateSessions(ctx context.Context, db *gorm.DB, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	err := db.WithContext(ctx).Model(&models.PaymentSession{}).
		Where("order_id IN ?", ids).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate payment sessions: %w", err)
	}
	return nil
}

func (s *OrderService) deactivate(ctx context.Context, session *models.PaymentSession) {
	if err := s.db.WithContext(ctx).Model(session).Update("is_active", false).Error; err != nil {
		s.log.Warn("deactivate payment session", zap.String("order_id", session.OrderID), zap.Error(err))
	}
}

func (s *OrderService) verifyURL(orderID, redirectURL string) string {
	if redirectURL == "" {
		redirectURL = s.cfg.FrontendURL
	}
	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("redirect_url", redirectURL)
	return s.cfg.PublicAPIURL + VerifyPath + "?" + q.Encode()
}
