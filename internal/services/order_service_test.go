package services

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

type orderFixture struct {
	db      *gorm.DB
	gateway *fakeGateway
	course  models.Course
	svc     *OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE 2026", "Physics, Chemistry", 5000,
		models.CourseAddon{SubjectName: "Maths", Price: d("700")},
	)
	gw := &fakeGateway{order: &OrderStatus{OrderStatus: OrderStatusActive}}
	svc := NewOrderService(db, gw, NewCatalog(db, nil, zap.NewNop()), NewEnrollmentStore(db), OrderServiceConfig{
		PublicAPIURL: "https://api.example.com",
		FrontendURL:  "https://app.example.com",
	}, zap.NewNop())
	return &orderFixture{db: db, gateway: gw, course: course, svc: svc}
}

func (f *orderFixture) request() CreateOrderRequest {
	return CreateOrderRequest{
		CourseID:         f.course.ID,
		Amount:           d("5700"),
		UserID:           "user-1",
		CustomerEmail:    "student@example.com",
		CustomerPhone:    "9876543210",
		DialCode:         "+91",
		SelectedSubjects: []string{"Maths"},
		RedirectURL:      "https://app.example.com",
	}
}

func TestValidatePhone(t *testing.T) {
	assert.NoError(t, ValidatePhone("+91", "9876543210"))
	assert.NoError(t, ValidatePhone("65", "81234567"))
	assert.ErrorIs(t, ValidatePhone("+91", "987654321"), ErrInvalidPhone)
	assert.ErrorIs(t, ValidatePhone("+971", "9876543210"), ErrInvalidPhone)
	assert.ErrorIs(t, ValidatePhone("+99", "9876543210"), ErrInvalidPhone)
	assert.ErrorIs(t, ValidatePhone("+91", "98765x3210"), ErrInvalidPhone)
	assert.Equal(t, "+919876543210", FormatPhone("91", "9876543210"))
}

func TestOrderServiceValidate(t *testing.T) {
	f := newOrderFixture(t)

	req := f.request()
	assert.NoError(t, f.svc.Validate(req))

	req.CustomerPhone = "98765"
	assert.ErrorIs(t, f.svc.Validate(req), ErrInvalidPhone)

	req = f.request()
	req.DialCode = "+999"
	assert.ErrorIs(t, f.svc.Validate(req), ErrInvalidPhone)

	req = f.request()
	req.CustomerEmail = "nope"
	assert.ErrorIs(t, f.svc.Validate(req), ErrInvalidRequest)
}

func TestCreateOrderRejectsOtherUser(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), "someone-else", f.request())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	f := newOrderFixture(t)
	req := f.request()
	req.Amount = d("0")
	_, err := f.svc.CreateOrder(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateOrderWritesSessionAndPendingRows(t *testing.T) {
	f := newOrderFixture(t)

	res, err := f.svc.CreateOrder(context.Background(), "user-1", f.request())
	require.NoError(t, err)

	assert.Equal(t, "session_"+res.OrderID, res.PaymentSessionID)
	assert.Equal(t, "sandbox", res.Environment)
	assert.Equal(t, "5700.00", res.Amount)

	u, err := url.Parse(res.VerifyURL)
	require.NoError(t, err)
	assert.Equal(t, "/functions/verify-cashfree-payment", u.Path)
	assert.Equal(t, res.OrderID, u.Query().Get("order_id"))
	assert.Equal(t, "https://app.example.com", u.Query().Get("redirect_url"))

	assert.Equal(t, res.VerifyURL, f.gateway.lastCreate.ReturnURL)
	assert.Equal(t, "+919876543210", f.gateway.lastCreate.Customer.CustomerPhone)
	assert.True(t, d("5700").Equal(f.gateway.lastCreate.Amount))

	rows, err := NewEnrollmentStore(f.db).ListByOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var subjects []string
	for _, r := range rows {
		assert.Equal(t, models.EnrollmentStatusPending, r.Status)
		if r.SubjectName != nil {
			subjects = append(subjects, *r.SubjectName)
		}
	}
	assert.Equal(t, []string{"Maths"}, subjects)

	var sessions int64
	f.db.Model(&models.PaymentSession{}).Where("order_id = ?", res.OrderID).Count(&sessions)
	assert.EqualValues(t, 1, sessions)
}

func TestCreateOrderChargesQuoteNotClientAmount(t *testing.T) {
	f := newOrderFixture(t)
	req := f.request()
	req.Amount = d("1")

	res, err := f.svc.CreateOrder(context.Background(), "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, "5700.00", res.Amount)
}

func TestCreateOrderResumesActiveSession(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentSessionID, second.PaymentSessionID)
	assert.Equal(t, 1, f.gateway.createCalls)
}

func TestCreateOrderReplacesExpiredSession(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	f.gateway.order = &OrderStatus{OrderStatus: OrderStatusExpired}
	second, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Equal(t, 2, f.gateway.createCalls)

	rows, err := NewEnrollmentStore(f.db).ListByUserCourse(ctx, "user-1", f.course.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, second.OrderID, r.OrderID)
	}

	var old models.PaymentSession
	require.NoError(t, f.db.Where("order_id = ?", first.OrderID).First(&old).Error)
	assert.False(t, old.IsActive)
}

func TestCreateOrderOnlyChargesUnownedItems(t *testing.T) {
	f := newOrderFixture(t)
	require.NoError(t, f.db.Create(&models.Enrollment{UserID: "user-1", CourseID: f.course.ID, Status: models.EnrollmentStatusSuccess}).Error)

	res, err := f.svc.CreateOrder(context.Background(), "user-1", f.request())
	require.NoError(t, err)
	assert.Equal(t, "700.00", res.Amount)

	rows, err := NewEnrollmentStore(f.db).ListByOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Maths", *rows[0].SubjectName)
}

func TestCreateOrderNothingToPurchase(t *testing.T) {
	f := newOrderFixture(t)
	require.NoError(t, f.db.Create(&models.Enrollment{UserID: "user-1", CourseID: f.course.ID, Status: models.EnrollmentStatusSuccess}).Error)
	require.NoError(t, f.db.Create(&models.Enrollment{UserID: "user-1", CourseID: f.course.ID, SubjectName: strPtr("Maths"), Status: models.EnrollmentStatusPaid}).Error)

	_, err := f.svc.CreateOrder(context.Background(), "user-1", f.request())
	assert.ErrorIs(t, err, ErrNothingToPurchase)
	assert.Zero(t, f.gateway.createCalls)
}

func TestCreateOrderUnknownAddon(t *testing.T) {
	f := newOrderFixture(t)
	req := f.request()
	req.SelectedSubjects = []string{"Astrology"}

	_, err := f.svc.CreateOrder(context.Background(), "user-1", req)
	assert.ErrorIs(t, err, ErrUnknownAddon)
}

func (f *orderFixture) reconciler() *Reconciler {
	return NewReconciler(ReconcilerDeps{
		DB:          f.db,
		Gateway:     f.gateway,
		Enrollments: NewEnrollmentStore(f.db),
		Ledger:      NewPaymentLedger(f.db),
		Catalog:     NewCatalog(f.db, nil, zap.NewNop()),
		Log:         zap.NewNop(),
	})
}

func (f *orderFixture) mainOnly() CreateOrderRequest {
	req := f.request()
	req.SelectedSubjects = nil
	req.Amount = d("5000")
	return req
}

func (f *orderFixture) sessionActive(t *testing.T, orderID string) bool {
	t.Helper()
	var s models.PaymentSession
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&s).Error)
	return s.IsActive
}

// rowsByItem maps "main" or the add-on name to the user's live row for it.
func (f *orderFixture) rowsByItem(t *testing.T) map[string]models.Enrollment {
	t.Helper()
	rows, err := NewEnrollmentStore(f.db).ListByUserCourse(context.Background(), "user-1", f.course.ID)
	require.NoError(t, err)
	out := map[string]models.Enrollment{}
	for _, r := range rows {
		if !r.Holds() {
			continue
		}
		key := "main"
		if r.SubjectName != nil {
			key = *r.SubjectName
		}
		out[key] = r
	}
	return out
}

func TestCreateOrderRetiresOrderThatLostRows(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	b, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	assert.False(t, f.sessionActive(t, a.OrderID))
	assert.True(t, f.sessionActive(t, b.OrderID))

	c, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	assert.NotEqual(t, a.OrderID, c.OrderID)
	assert.Equal(t, 3, f.gateway.createCalls)

	rows := f.rowsByItem(t)
	assert.Equal(t, c.OrderID, rows["main"].OrderID)
	assert.Equal(t, b.OrderID, rows["Maths"].OrderID)
	assert.False(t, f.sessionActive(t, b.OrderID))
}

func TestCreateOrderSkipsSessionWithoutItsRows(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	// A session left active by an older release must not be resumed once its
	// rows belong to another order.
	require.NoError(t, f.db.Model(&models.PaymentSession{}).Where("order_id = ?", a.OrderID).Update("is_active", true).Error)

	c, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	assert.NotEqual(t, a.OrderID, c.OrderID)
	assert.False(t, f.sessionActive(t, a.OrderID))
}

func TestPayingRetiredOrderStillGrantsItsItems(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	b, err := f.svc.CreateOrder(ctx, "user-1", f.request())
	require.NoError(t, err)

	// The user pays A from a tab opened before B took its row over.
	f.gateway.order = paidOrder()
	out, err := f.reconciler().Reconcile(ctx, a.OrderID, ReconcileOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Persisted)
	assert.False(t, out.Orphaned)

	rows := f.rowsByItem(t)
	assert.Equal(t, a.OrderID, rows["main"].OrderID)
	assert.Equal(t, models.EnrollmentStatusSuccess, rows["main"].Status)
	assert.Equal(t, b.OrderID, rows["Maths"].OrderID)
	assert.Equal(t, models.EnrollmentStatusPending, rows["Maths"].Status)
	assert.False(t, f.sessionActive(t, b.OrderID))

	p, err := NewPaymentLedger(f.db).FindByOrder(ctx, a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "JEE 2026", p.Batch)

	all, err := NewEnrollmentStore(f.db).ListByUserCourse(ctx, "user-1", f.course.ID)
	require.NoError(t, err)
	addons, err := NewCatalog(f.db, nil, zap.NewNop()).ListAddons(ctx, f.course.ID)
	require.NoError(t, err)
	state := ComputeEnrollmentState(all, addons)
	assert.True(t, state.IsMainCourseOwned)
}

func TestLatePaymentOfFailedOrderWinsOverRetry(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	r := f.reconciler()

	a, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)

	// An early redirect sees A unpaid and fails it.
	out, err := r.Reconcile(ctx, a.OrderID, ReconcileOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, out.Status)

	b, err := f.svc.CreateOrder(ctx, "user-1", f.mainOnly())
	require.NoError(t, err)
	require.NotEqual(t, a.OrderID, b.OrderID)

	// A settles late and the webhook arrives.
	f.gateway.order = paidOrder()
	out, err = r.Reconcile(ctx, a.OrderID, ReconcileOptions{Source: "webhook"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Recorded())
	assert.False(t, out.Orphaned)

	var ledger int64
	f.db.Model(&models.Payment{}).Where("order_id = ?", a.OrderID).Count(&ledger)
	assert.EqualValues(t, 1, ledger)

	rows := f.rowsByItem(t)
	assert.Equal(t, a.OrderID, rows["main"].OrderID)
	assert.Equal(t, models.EnrollmentStatusSuccess, rows["main"].Status)

	retry, err := NewEnrollmentStore(f.db).ListByOrder(ctx, b.OrderID)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, models.EnrollmentStatusFailed, retry[0].Status)
	assert.False(t, f.sessionActive(t, b.OrderID))

	// Paying the retry as well is recorded but grants nothing new.
	out, err = r.Reconcile(ctx, b.OrderID, ReconcileOptions{Source: "webhook"})
	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.True(t, out.Orphaned)

	var audit models.PaymentCallbackHistory
	require.NoError(t, f.db.Where("order_id = ? AND orphaned = ?", b.OrderID, true).First(&audit).Error)
	assert.Equal(t, StatusSuccess, audit.FinalStatus)
}
