package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edulearn_app_echo/internal/models"
)

func TestGrantFreeDuplicateIsAlreadyEnrolled(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "Foundation", "Maths", 0)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	first, err := store.GrantFree(ctx, "user-1", course.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, first.Status)

	_, err = store.GrantFree(ctx, "user-1", course.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	var count int64
	db.Model(&models.Enrollment{}).Where("user_id = ?", "user-1").Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestGrantFreeAfterFailedRow(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "Foundation", "Maths", 0)
	require.NoError(t, db.Create(&models.Enrollment{UserID: "user-1", CourseID: course.ID, Status: models.EnrollmentStatusFailed}).Error)

	_, err := NewEnrollmentStore(db).GrantFree(context.Background(), "user-1", course.ID, nil)
	assert.NoError(t, err)
}

func TestGrantFreeRejectsPaidCourse(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 4999,
		models.CourseAddon{SubjectName: "Maths", Price: d("999")},
		models.CourseAddon{SubjectName: "Workshop", Price: d("0")},
	)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	_, err := store.GrantFree(ctx, "user-1", course.ID, nil)
	assert.ErrorIs(t, err, ErrCourseNotFree)

	_, err = store.GrantFree(ctx, "user-1", course.ID, strPtr("Maths"))
	assert.ErrorIs(t, err, ErrCourseNotFree)

	_, err = store.GrantFree(ctx, "user-1", course.ID, strPtr("Chess"))
	assert.ErrorIs(t, err, ErrUnknownAddon)

	row, err := store.GrantFree(ctx, "user-1", course.ID, strPtr("workshop"))
	require.NoError(t, err)
	assert.Equal(t, "Workshop", *row.SubjectName)
}

func TestUpsertPendingRepointsExistingRow(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, Amount: d("100"), OrderID: "EL_old"}))
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, Amount: d("90"), OrderID: "EL_new"}))

	rows, err := store.ListByUserCourse(ctx, "u", course.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "EL_new", rows[0].OrderID)
	assert.Equal(t, models.EnrollmentStatusPending, rows[0].Status)
}

func TestUpsertPendingBlockedBySettledRow(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	require.NoError(t, db.Create(&models.Enrollment{UserID: "u", CourseID: course.ID, Status: models.EnrollmentStatusSuccess}).Error)

	err := NewEnrollmentStore(db).UpsertPending(context.Background(), &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_2"})
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestUpdateStatusByOrder(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_1"}))
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, SubjectName: strPtr("Maths"), OrderID: "EL_1"}))

	n, err := store.UpdateStatusByOrder(ctx, "EL_1", models.EnrollmentStatusSuccess, "pay_1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rows, err := store.ListByOrder(ctx, "EL_1")
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, models.EnrollmentStatusSuccess, r.Status)
		assert.Equal(t, "pay_1", r.PaymentID)
		assert.Equal(t, "JEE", r.Course.Title)
	}
}

func TestStalePendingOrders(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "a", CourseID: course.ID, OrderID: "EL_old"}))
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "a", CourseID: course.ID, SubjectName: strPtr("Maths"), OrderID: "EL_old"}))
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "b", CourseID: course.ID, OrderID: "EL_fresh"}))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Enrollment{}).Where("order_id = ?", "EL_old").UpdateColumn("updated_at", old).Error)

	ids, err := store.StalePendingOrders(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"EL_old"}, ids)
}

func TestClaimPendingReportsPreviousOrder(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	from, err := store.ClaimPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_a"})
	require.NoError(t, err)
	assert.Empty(t, from)

	from, err = store.ClaimPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_b"})
	require.NoError(t, err)
	assert.Equal(t, "EL_a", from)

	from, err = store.ClaimPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_b"})
	require.NoError(t, err)
	assert.Empty(t, from)
}

func TestSettleOrderSupersedesCompetingPendingRow(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_old", Status: models.EnrollmentStatusFailed}).Error)
	require.NoError(t, store.UpsertPending(ctx, &models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_retry"}))

	res, err := store.SettleOrder(ctx, "EL_old", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.Zero(t, res.Duplicates)
	assert.Equal(t, []string{"EL_retry"}, res.Superseded)

	old, err := store.ListByOrder(ctx, "EL_old")
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, models.EnrollmentStatusSuccess, old[0].Status)
	assert.Equal(t, "pay_1", old[0].PaymentID)

	retry, err := store.ListByOrder(ctx, "EL_retry")
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, models.EnrollmentStatusFailed, retry[0].Status)
}

func TestSettleOrderLeavesOwnedItemAlone(t *testing.T) {
	db := newTestDB(t)
	course := seedCourse(t, db, "JEE", "Physics", 100)
	store := NewEnrollmentStore(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_first", Status: models.EnrollmentStatusSuccess}).Error)
	require.NoError(t, db.Create(&models.Enrollment{UserID: "u", CourseID: course.ID, OrderID: "EL_second", Status: models.EnrollmentStatusFailed}).Error)

	res, err := store.SettleOrder(ctx, "EL_second", "pay_2")
	require.NoError(t, err)
	assert.Zero(t, res.Settled)
	assert.Equal(t, 1, res.Duplicates)

	rows, err := store.ListByOrder(ctx, "EL_second")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, rows[0].Status)
}
