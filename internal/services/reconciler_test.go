package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

type reconcileFixture struct {
	db       *gorm.DB
	gateway  *fakeGateway
	notifier *fakeNotifier
	retry    *fakeRetryQueue
	course   models.Course
	r        *Reconciler
}

func newReconcileFixture(t *testing.T, order *OrderStatus) *reconcileFixture {
	t.Helper()
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE Advanced 2026", "Physics, Chemistry", 5000,
		models.CourseAddon{SubjectName: "Physics", Price: d("500")},
		models.CourseAddon{SubjectName: "Maths", Price: d("700")},
	)

	f := &reconcileFixture{
		db:       db,
		gateway:  &fakeGateway{order: order},
		notifier: &fakeNotifier{},
		retry:    &fakeRetryQueue{},
		course:   course,
	}
	f.r = NewReconciler(ReconcilerDeps{
		DB:          db,
		Gateway:     f.gateway,
		Enrollments: NewEnrollmentStore(db),
		Ledger:      NewPaymentLedger(db),
		Catalog:     NewCatalog(db, nil, zap.NewNop()),
		Notifier:    f.notifier,
		Retry:       f.retry,
		Log:         zap.NewNop(),
	})
	return f
}

// seedOrder writes a pending main-course row plus one legacy add-on row
// that stores the add-on id instead of its name.
func (f *reconcileFixture) seedOrder(t *testing.T, orderID string) {
	t.Helper()
	store := NewEnrollmentStore(f.db)
	ctx := context.Background()
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "user-1", CourseID: f.course.ID, Amount: d("5000"), OrderID: orderID}))
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "user-1", CourseID: f.course.ID, SubjectName: strPtr(f.course.Addons[0].ID), Amount: d("500"), OrderID: orderID}))
}

func (f *reconcileFixture) statuses(t *testing.T, orderID string) []models.EnrollmentStatus {
	t.Helper()
	rows, err := NewEnrollmentStore(f.db).ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]models.EnrollmentStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status)
	}
	return out
}

func (f *reconcileFixture) ledgerCount(t *testing.T, orderID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Payment{}).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

func paidOrder() *OrderStatus {
	return &OrderStatus{
		CFOrderID:       "cf_1",
		OrderStatus:     OrderStatusPaid,
		OrderAmount:     d("5500"),
		CustomerDetails: CustomerDetails{CustomerID: "user-1", CustomerEmail: "student@example.com", CustomerPhone: "+919876543210"},
		Raw:             []byte(`{"order_status":"PAID"}`),
	}
}

func TestReconcilePaidOrder(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.gateway.payments = []PaymentAttempt{
		{CFPaymentID: "pay_failed", PaymentStatus: "FAILED"},
		{
			CFPaymentID:   "pay_ok",
			PaymentStatus: PaymentStatusSuccess,
			PaymentAmount: decimal.NewNullDecimal(d("5400")),
			PaymentTime:   "2024-03-01T10:15:30+05:30",
			PaymentGroup:  "upi",
			PaymentMethod: PaymentMethod{UPI: &UPIMethod{UTR: "UTR123"}, Netbanking: &NetbankingMethod{BankReference: "NB"}},
			Raw:           []byte(`{"cf_payment_id":"pay_ok"}`),
		},
	}
	f.seedOrder(t, "EL_1")

	out, err := f.r.Reconcile(context.Background(), "EL_1", ReconcileOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "pay_ok", out.PaymentID)
	assert.True(t, out.Persisted)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusSuccess, models.EnrollmentStatusSuccess}, f.statuses(t, "EL_1"))

	p, err := NewPaymentLedger(f.db).FindByOrder(context.Background(), "EL_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "pay_ok", p.PaymentID)
	assert.Equal(t, "upi", p.PaymentMode)
	assert.Equal(t, "upi", p.PaymentGroup)
	require.NotNil(t, p.UTR)
	assert.Equal(t, "UTR123", *p.UTR)
	require.NotNil(t, p.PaymentTime)
	assert.Equal(t, "JEE Advanced 2026", p.Batch)
	assert.Equal(t, "Physics, Chemistry", p.Courses)
	assert.True(t, p.DiscountApplied)
	assert.Equal(t, "flat", p.DiscountType)
	assert.True(t, d("100").Equal(p.DiscountValue))
	assert.True(t, d("5400").Equal(p.NetAmount))
	assert.Contains(t, string(p.RawResponse), "pay_ok")
	assert.Contains(t, string(p.RawResponse), "PAID")

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "student@example.com", f.notifier.sent[0].Email)

	var audits int64
	f.db.Model(&models.PaymentCallbackHistory{}).Where("order_id = ?", "EL_1").Count(&audits)
	assert.EqualValues(t, 1, audits)
}

func TestReconcileTwiceRecordsOnce(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.seedOrder(t, "EL_1")
	ctx := context.Background()

	_, err := f.r.Reconcile(ctx, "EL_1", ReconcileOptions{})
	require.NoError(t, err)
	out, err := f.r.Reconcile(ctx, "EL_1", ReconcileOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.AlreadyReconciled)
	assert.EqualValues(t, 1, f.ledgerCount(t, "EL_1"))
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusSuccess, models.EnrollmentStatusSuccess}, f.statuses(t, "EL_1"))
}

func TestReconcileUnpaidOrderFails(t *testing.T) {
	for _, status := range []string{OrderStatusActive, OrderStatusExpired, OrderStatusTerminated} {
		t.Run(status, func(t *testing.T) {
			f := newReconcileFixture(t, &OrderStatus{OrderStatus: status, OrderAmount: d("5500")})
			f.seedOrder(t, "EL_2")

			out, err := f.r.Reconcile(context.Background(), "EL_2", ReconcileOptions{})
			require.NoError(t, err)

			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusFailed, models.EnrollmentStatusFailed}, f.statuses(t, "EL_2"))
			assert.Zero(t, f.ledgerCount(t, "EL_2"))
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestReconcileFetchOrderFailureIsFatal(t *testing.T) {
	f := newReconcileFixture(t, nil)
	f.gateway.orderErr = &GatewayError{Op: "fetch order", StatusCode: 500}
	f.seedOrder(t, "EL_3")

	out, err := f.r.Reconcile(context.Background(), "EL_3", ReconcileOptions{})

	require.Error(t, err)
	var gwErr *GatewayError
	assert.True(t, errors.As(err, &gwErr))
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusPending, models.EnrollmentStatusPending}, f.statuses(t, "EL_3"))
	assert.Zero(t, f.ledgerCount(t, "EL_3"))

	var audit models.PaymentCallbackHistory
	require.NoError(t, f.db.Where("order_id = ?", "EL_3").First(&audit).Error)
	assert.Equal(t, StatusError, audit.FinalStatus)
	assert.NotEmpty(t, audit.Error)
}

func TestReconcilePaymentsFailureStillSettles(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.gateway.paymentsErr = errors.New("timeout")
	f.seedOrder(t, "EL_4")

	out, err := f.r.Reconcile(context.Background(), "EL_4", ReconcileOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	p, err := NewPaymentLedger(f.db).FindByOrder(context.Background(), "EL_4")
	require.NoError(t, err)
	assert.Nil(t, p.UTR)
	assert.Equal(t, "unknown", p.PaymentMode)
	assert.Equal(t, "cf_1", p.PaymentID)
	assert.False(t, p.DiscountApplied)
	assert.True(t, d("5500").Equal(p.NetAmount))
}

func TestReconcileMissingOrderID(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())

	out, err := f.r.Reconcile(context.Background(), "  ", ReconcileOptions{})

	assert.ErrorIs(t, err, ErrMissingOrderID)
	assert.Equal(t, StatusError, out.Status)
	assert.Zero(t, f.gateway.fetchCalls)
}

func TestReconcileNotConfigured(t *testing.T) {
	r := NewReconciler(ReconcilerDeps{MissingSecrets: []string{"CASHFREE_CLIENT_SECRET"}})

	out, err := r.Reconcile(context.Background(), "EL_5", ReconcileOptions{})

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "CASHFREE_CLIENT_SECRET")
	assert.Equal(t, StatusError, out.Status)
}

func TestReconcileKeepActivePending(t *testing.T) {
	f := newReconcileFixture(t, &OrderStatus{OrderStatus: OrderStatusActive})
	f.seedOrder(t, "EL_6")

	out, err := f.r.Reconcile(context.Background(), "EL_6", ReconcileOptions{KeepActivePending: true, Source: "sweep"})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, []models.EnrollmentStatus{models.EnrollmentStatusPending, models.EnrollmentStatusPending}, f.statuses(t, "EL_6"))
}

func TestReconcileQueuesConfirmationRetry(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.notifier.err = errors.New("smtp down")
	f.seedOrder(t, "EL_7")

	out, err := f.r.Reconcile(context.Background(), "EL_7", ReconcileOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"EL_7"}, f.retry.orders)
}

func TestReconcileSkipsWritesWhenLocked(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.seedOrder(t, "EL_8")
	f.r.locker = &fakeLocker{held: true}

	out, err := f.r.Reconcile(context.Background(), "EL_8", ReconcileOptions{})
	require.NoError(t, err)

	assert.True(t, out.Locked)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Zero(t, f.ledgerCount(t, "EL_8"))
}

func TestReconcileReleasesLock(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.seedOrder(t, "EL_9")
	locker := &fakeLocker{}
	f.r.locker = locker

	_, err := f.r.Reconcile(context.Background(), "EL_9", ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
}

func TestResendConfirmation(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())
	f.seedOrder(t, "EL_10")
	_, err := f.r.Reconcile(context.Background(), "EL_10", ReconcileOptions{})
	require.NoError(t, err)

	require.NoError(t, f.r.ResendConfirmation(context.Background(), "EL_10"))
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, f.notifier.sent[0].OrderID, f.notifier.sent[1].OrderID)
	assert.Equal(t, f.notifier.sent[0].Subjects, f.notifier.sent[1].Subjects)
	assert.True(t, f.notifier.sent[0].NetAmount.Equal(f.notifier.sent[1].NetAmount))

	assert.ErrorIs(t, f.r.ResendConfirmation(context.Background(), "EL_missing"), ErrPaymentNotFound)
}

func TestReconcileFlagsPaidOrderWithoutEnrollments(t *testing.T) {
	f := newReconcileFixture(t, paidOrder())

	out, err := f.r.Reconcile(context.Background(), "EL_11", ReconcileOptions{Source: "webhook"})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Persisted)
	assert.True(t, out.Orphaned)
	assert.EqualValues(t, 1, f.ledgerCount(t, "EL_11"))

	var audit models.PaymentCallbackHistory
	require.NoError(t, f.db.Where("order_id = ?", "EL_11").First(&audit).Error)
	assert.True(t, audit.Orphaned)
}

func TestOutcomeRecorded(t *testing.T) {
	assert.True(t, Outcome{Persisted: true}.Recorded())
	assert.True(t, Outcome{AlreadyReconciled: true}.Recorded())
	assert.False(t, Outcome{Locked: true}.Recorded())
	assert.False(t, Outcome{Status: StatusSuccess}.Recorded())
}
