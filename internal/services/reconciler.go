package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

// Terminal outcomes of one reconciliation, as shown to the browser.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
	// StatusPending is only produced for sweeps that keep ACTIVE orders open.
	StatusPending = "pending"
)

const reconcileLockTTL = 30 * time.Second

// Locker serializes reconciliation of one order across processes.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// RetryQueue defers a failed confirmation to the worker.
type RetryQueue interface {
	EnqueueConfirmation(ctx context.Context, orderID string) error
}

type ReconcileOptions struct {
	// KeepActivePending leaves rows pending while the gateway still reports
	// the order ACTIVE.
	KeepActivePending bool
	// Source is stored on the audit row: redirect, webhook, sweep, cli.
	Source string
}

type Outcome struct {
	OrderID           string
	Status            string
	PaymentID         string
	AlreadyReconciled bool
	Persisted         bool
	// Locked is set when another invocation held the order lock and no
	// writes were attempted.
	Locked bool
	// Orphaned is set when a paid order was recorded but granted no
	// enrollment. Support has to sort these out by hand.
	Orphaned bool
}

// Recorded reports whether the order's result is stored, by this call or an
// earlier one. Callers that can be retried should retry when it is false.
func (o Outcome) Recorded() bool {
	return o.Persisted || o.AlreadyReconciled
}

type ReconcilerDeps struct {
	DB          *gorm.DB
	Gateway     Gateway
	Enrollments *EnrollmentStore
	Ledger      *PaymentLedger
	Catalog     *Catalog
	Notifier    Notifier
	Locker      Locker
	Retry       RetryQueue
	// MissingSecrets lists absent configuration; non-empty disables Reconcile.
	MissingSecrets []string
	Log            *zap.Logger
}

// Reconciler settles an order against the gateway's authoritative status.
type Reconciler struct {
	db          *gorm.DB
	gateway     Gateway
	enrollments *EnrollmentStore
	ledger      *PaymentLedger
	catalog     *Catalog
	notifier    Notifier
	locker      Locker
	retry       RetryQueue
	missing     []string
	log         *zap.Logger
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		db:          d.DB,
		gateway:     d.Gateway,
		enrollments: d.Enrollments,
		ledger:      d.Ledger,
		catalog:     d.Catalog,
		notifier:    d.Notifier,
		locker:      d.Locker,
		retry:       d.Retry,
		missing:     d.MissingSecrets,
		log:         log.Named("reconciler"),
	}
}

// Ready reports whether all required collaborators are configured.
func (r *Reconciler) Ready() error {
	missing := append([]string(nil), r.missing...)
	if r.db == nil {
		missing = append(missing, "database")
	}
	if r.gateway == nil {
		missing = append(missing, "gateway")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Reconcile fetches the order from the gateway, records the payment and
// moves the order's enrollments to their terminal status. A returned error
// means no status could be determined; persistence and notification
// failures are logged and do not change the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string, opts ReconcileOptions) (Outcome, error) {
	orderID = strings.TrimSpace(orderID)
	out := Outcome{OrderID: orderID, Status: StatusError}
	if opts.Source == "" {
		opts.Source = "redirect"
	}

	if err := r.Ready(); err != nil {
		r.log.Error("reconciliation not configured", zap.Error(err))
		return out, err
	}
	if orderID == "" {
		return out, ErrMissingOrderID
	}
	log := r.log.With(zap.String("order_id", orderID), zap.String("source", opts.Source))

	order, err := r.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		log.Error("fetch order failed", zap.Error(err))
		r.audit(ctx, out, opts, nil, nil, err)
		return out, fmt.Errorf("fetch order: %w", err)
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}

	payments, err := r.gateway.FetchPayments(ctx, orderID)
	if err != nil {
		log.Warn("fetch payments failed, continuing without payment details", zap.Error(err))
		payments = nil
	}
	payment := SelectPayment(payments)
	if payment != nil {
		out.PaymentID = string(payment.CFPaymentID)
	}

	if opts.KeepActivePending && strings.EqualFold(order.OrderStatus, OrderStatusActive) {
		out.Status = StatusPending
		log.Debug("order still active, leaving pending")
		return out, nil
	}

	enrollmentStatus := models.EnrollmentStatusFailed
	out.Status = StatusFailed
	if order.IsPaid() {
		enrollmentStatus = models.EnrollmentStatusSuccess
		out.Status = StatusSuccess
	}

	if r.locker != nil {
		release, acquired, lockErr := r.locker.AcquireLock(ctx, "reconcile:"+orderID, reconcileLockTTL)
		switch {
		case lockErr != nil:
			log.Warn("order lock unavailable, continuing unlocked", zap.Error(lockErr))
		case !acquired:
			log.Info("order is being reconciled elsewhere, skipping writes")
			out.Locked = true
			return out, nil
		default:
			defer release()
		}
	}

	rows, err := r.enrollments.ListByOrder(ctx, orderID)
	if err != nil {
		log.Warn("load order enrollments failed", zap.Error(err))
	}

	var (
		record  *models.Payment
		missing []models.Enrollment
	)
	if out.Status == StatusSuccess {
		missing = r.missingItems(ctx, log, orderID, rows)
		all := append(append([]models.Enrollment(nil), rows...), missing...)
		record = r.buildPayment(ctx, order, payment, all)
	}

	var settled int
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record != nil {
			if err := r.ledger.WithTx(tx).Record(ctx, record); err != nil {
				return err
			}
		}
		store := r.enrollments.WithTx(tx)

		if out.Status != StatusSuccess {
			n, err := store.UpdateStatusByOrder(ctx, orderID, enrollmentStatus, out.PaymentID)
			if err != nil {
				return err
			}
			if n == 0 {
				log.Warn("no enrollments matched order")
			}
			return nil
		}

		var superseded []string
		for i := range missing {
			row := missing[i]
			row.Course = models.Course{}
			movedFrom, err := store.ClaimPending(ctx, &row)
			switch {
			case errors.Is(err, ErrAlreadyEnrolled):
				log.Warn("item already owned, not restored", zap.Stringp("subject", row.SubjectName))
				continue
			case err != nil:
				return err
			}
			log.Info("restored enrollment from payment session", zap.Stringp("subject", row.SubjectName))
			if movedFrom != "" {
				superseded = append(superseded, movedFrom)
			}
		}

		res, err := store.SettleOrder(ctx, orderID, out.PaymentID)
		if err != nil {
			return err
		}
		settled = res.Settled
		if res.Duplicates > 0 {
			log.Warn("paid order repeats items the user already owns", zap.Int("duplicates", res.Duplicates))
		}
		superseded = append(superseded, res.Superseded...)
		if len(superseded) > 0 {
			log.Info("superseded pending orders", zap.Strings("orders", superseded))
		}
		return DeactivateSessions(ctx, tx, superseded)
	})
	switch {
	case errors.Is(err, ErrAlreadyReconciled):
		log.Info("order already reconciled")
		out.AlreadyReconciled = true
	case err != nil:
		log.Error("persist reconciliation failed", zap.Error(err))
	default:
		out.Persisted = true
		if out.Status == StatusSuccess && settled == 0 {
			out.Orphaned = true
			log.Error("paid order granted no enrollments")
		}
	}

	// A rolled back write is retried by the next redirect or sweep, which
	// notifies then.
	if record != nil && out.Persisted {
		r.notify(ctx, log, confirmationFromPayment(record))
	}

	r.audit(ctx, out, opts, order, payment, err)
	log.Info("order reconciled", zap.String("status", out.Status), zap.Bool("persisted", out.Persisted))
	return out, nil
}

// ResendConfirmation re-sends the confirmation of an already recorded
// payment. Used by the retry task.
func (r *Reconciler) ResendConfirmation(ctx context.Context, orderID string) error {
	if r.notifier == nil {
		return nil
	}
	p, err := r.ledger.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return r.notifier.Notify(ctx, confirmationFromPayment(p))
}

func (r *Reconciler) notify(ctx context.Context, log *zap.Logger, c Confirmation) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Notify(ctx, c)
	if err == nil {
		return
	}
	log.Warn("confirmation failed", zap.Error(err))
	if r.retry == nil {
		return
	}
	if err := r.retry.EnqueueConfirmation(ctx, c.OrderID); err != nil {
		log.Error("queue confirmation retry failed", zap.Error(err))
	}
}

// missingItems lists the items of the order's payment session that no row of
// the order holds any more, typically because a later checkout took them
// over. Rows are returned ready to insert, with Course loaded.
func (r *Reconciler) missingItems(ctx context.Context, log *zap.Logger, orderID string, rows []models.Enrollment) []models.Enrollment {
	if r.catalog == nil {
		return nil
	}
	var session models.PaymentSession
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&session).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("load payment session failed", zap.Error(err))
		}
		return nil
	}
	keys := splitItemsKey(session.ItemsKey)
	if len(keys) == 0 {
		return nil
	}

	course, err := r.catalog.GetCourse(ctx, session.CourseID)
	if err != nil {
		log.Warn("load session course failed", zap.Error(err))
		return nil
	}
	addons, err := r.catalog.ListAddons(ctx, course.ID)
	if err != nil {
		log.Warn("load session add-ons failed", zap.Error(err))
		return nil
	}

	held := map[string]bool{}
	for _, row := range rows {
		if row.IsMainCourse() {
			held[mainItemKey] = true
		} else if a, ok := MatchAddon(addons, *row.SubjectName); ok {
			held[a.ID] = true
		}
	}

	var missing []models.Enrollment
	for _, key := range keys {
		if held[key] {
			continue
		}
		row := models.Enrollment{
			UserID:   session.UserID,
			CourseID: course.ID,
			OrderID:  orderID,
			Course:   *course,
		}
		if key == mainItemKey {
			row.Amount = course.EffectivePrice()
		} else {
			a, ok := MatchAddon(addons, key)
			if !ok {
				log.Warn("session add-on no longer exists", zap.String("addon_id", key))
				continue
			}
			name := a.SubjectName
			row.SubjectName = &name
			row.Amount = a.Price
		}
		missing = append(missing, row)
	}
	return missing
}

// resolveSubjects unions the mandatory subjects of the order's course with
// its add-on rows, resolving legacy add-on ids to names.
func (r *Reconciler) resolveSubjects(ctx context.Context, rows []models.Enrollment) []string {
	if len(rows) == 0 {
		return nil
	}
	mandatory := rows[0].Course.MandatorySubjects()

	var candidates []string
	for _, row := range rows {
		if row.SubjectName != nil {
			candidates = append(candidates, *row.SubjectName)
		}
	}

	var names map[string]string
	if ids, _ := PartitionAddonCandidates(candidates); len(ids) > 0 && r.catalog != nil {
		resolved, err := r.catalog.ResolveAddonNames(ctx, ids)
		if err != nil {
			r.log.Warn("resolve add-on names failed", zap.Error(err))
		}
		names = resolved
	}
	return MergeSubjects(mandatory, ResolveAddonSubjects(candidates, names))
}

func (r *Reconciler) buildPayment(ctx context.Context, order *OrderStatus, payment *PaymentAttempt, rows []models.Enrollment) *models.Payment {
	discount := ReconcileDiscount(order, payment)

	p := &models.Payment{
		OrderID:         order.OrderID,
		UserID:          order.CustomerDetails.CustomerID,
		Amount:          order.OrderAmount,
		Status:          StatusSuccess,
		PaymentMode:     string(PaymentMethodUnknown),
		CustomerEmail:   order.CustomerDetails.CustomerEmail,
		CustomerPhone:   order.CustomerDetails.CustomerPhone,
		Courses:         FormatSubjects(r.resolveSubjects(ctx, rows)),
		DiscountApplied: discount.Applied,
		DiscountType:    discount.Type,
		DiscountValue:   discount.Value,
		CouponCode:      discount.CouponCode,
		NetAmount:       discount.NetAmount,
	}
	if len(rows) > 0 {
		p.UserID = rows[0].UserID
		p.Batch = rows[0].Course.Title
	}

	raw := map[string]json.RawMessage{"order": order.Raw}
	if payment != nil {
		p.PaymentID = string(payment.CFPaymentID)
		p.PaymentMode = string(payment.PaymentMethod.Kind())
		p.PaymentGroup = payment.PaymentGroup
		p.PaymentTime = parsePaymentTime(payment.PaymentTime)
		p.UTR = ExtractUTR(payment)
		raw["payment"] = payment.Raw
	}
	if p.PaymentID == "" {
		p.PaymentID = string(order.CFOrderID)
	}
	p.RawResponse = rawJSON(raw)
	return p
}

func (r *Reconciler) audit(ctx context.Context, out Outcome, opts ReconcileOptions, order *OrderStatus, payment *PaymentAttempt, cause error) {
	if r.db == nil {
		return
	}
	meta := map[string]json.RawMessage{}
	if order != nil {
		meta["order"] = order.Raw
	}
	if payment != nil {
		meta["payment"] = payment.Raw
	}
	row := models.PaymentCallbackHistory{
		PaymentGateway: models.PaymentGateway(r.gateway.Name()),
		OrderID:        out.OrderID,
		Source:         opts.Source,
		FinalStatus:    out.Status,
		Orphaned:       out.Orphaned,
		Metadata:       rawJSON(meta),
	}
	if cause != nil {
		row.Error = cause.Error()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Warn("write callback history failed", zap.String("order_id", out.OrderID), zap.Error(err))
	}
}

func confirmationFromPayment(p *models.Payment) Confirmation {
	return Confirmation{
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Email:         p.CustomerEmail,
		Phone:         p.CustomerPhone,
		Batch:         p.Batch,
		Subjects:      p.Courses,
		NetAmount:     p.NetAmount,
		TransactionID: p.PaymentID,
	}
}

var paymentTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parsePaymentTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range paymentTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// rawJSON drops empty members so an absent payload is stored as missing
// rather than as invalid JSON.
func rawJSON(parts map[string]json.RawMessage) datatypes.JSON {
	clean := make(map[string]json.RawMessage, len(parts))
	for k, v := range parts {
		if len(v) > 0 && json.Valid(v) {
			clean[k] = v
		}
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}
