package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"edulearn_app_echo/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func seedCourse(t *testing.T, db *gorm.DB, title, subjects string, price int64, addons ...models.CourseAddon) models.Course {
	t.Helper()
	course := models.Course{Title: title, Subject: subjects}
	if price > 0 {
		course.Price = decimal.NewNullDecimal(decimal.NewFromInt(price))
	}
	require.NoError(t, db.Create(&course).Error)
	for i := range addons {
		addons[i].ParentCourseID = course.ID
		require.NoError(t, db.Create(&addons[i]).Error)
	}
	course.Addons = addons
	return course
}

func strPtr(s string) *string { return &s }

type fakeGateway struct {
	mu sync.Mutex

	order       *OrderStatus
	orderErr    error
	payments    []PaymentAttempt
	paymentsErr error
	created     *CreatedOrder
	createErr   error

	fetchCalls  int
	createCalls int
	lastCreate  CreateOrderInput
}

func (g *fakeGateway) Name() string        { return "cashfree" }
func (g *fakeGateway) Environment() string { return "sandbox" }

func (g *fakeGateway) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreatedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastCreate = in
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.created != nil {
		return g.created, nil
	}
	return &CreatedOrder{OrderID: in.OrderID, PaymentSessionID: "session_" + in.OrderID, Raw: []byte(`{"ok":true}`)}, nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	o := *g.order
	if o.OrderID == "" {
		o.OrderID = orderID
	}
	return &o, nil
}

func (g *fakeGateway) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	if g.paymentsErr != nil {
		return nil, g.paymentsErr
	}
	return g.payments, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, headers http.Header) (string, error) {
	return "", ErrInvalidSignature
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Confirmation
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, c Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.err
}

type fakeRetryQueue struct {
	orders []string
}

func (q *fakeRetryQueue) EnqueueConfirmation(ctx context.Context, orderID string) error {
	q.orders = append(q.orders, orderID)
	return nil
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.held {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}
