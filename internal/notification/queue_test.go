package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workthread-notify-backend/internal/db"
	"workthread-notify-backend/internal/model"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

var testPayload = []byte(`{"title":"New message","body":"hello"}`)

func TestGormQueue_ClaimLeasesOnce(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)

	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1, Payload: []byte(`{"title":"x"}`), MaxAttempts: 3}))

	now := time.Now().Add(time.Second)
	task, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.ID)
	assert.Equal(t, int64(1), task.SubscriptionID)
	assert.JSONEq(t, `{"title":"x"}`, string(task.Payload))
	assert.Equal(t, 3, task.MaxAttempts)

	again, err := q.Claim(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, again, "a leased task is not handed out twice")

	row, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRunning, row.State)
	require.NotNil(t, row.LeaseUntil)
}

func TestGormQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1, Payload: testPayload}))

	now := time.Now().Add(time.Second)
	first, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Claim(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "a", second.ID)
}

func TestGormQueue_RescheduleHonoursDueTime(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1, Payload: testPayload}))

	now := time.Now().Add(time.Second)
	task, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, task)

	task.Attempt = 1
	retryAt := now.Add(5 * time.Second)
	require.NoError(t, q.Reschedule(ctx, *task, retryAt, "503"))

	early, err := q.Claim(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, early)

	due, err := q.Claim(ctx, retryAt.Add(time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, due)
	assert.Equal(t, 1, due.Attempt)

	row, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "503", row.LastError)
}

func TestGormQueue_FinishAndPurge(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1, Payload: testPayload}, Task{ID: "b", SubscriptionID: 2, Payload: testPayload}))

	task, err := q.Claim(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Error(t, q.Finish(ctx, *task, model.DeliveryRunning, ""), "running is not terminal")

	task.Attempt = 1
	require.NoError(t, q.Finish(ctx, *task, model.DeliveryDelivered, ""))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[model.DeliveryDelivered])
	assert.Equal(t, int64(1), stats[model.DeliveryPending])

	purged, err := q.Purge(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "pending tasks survive a purge")

	_, err = q.Get(ctx, task.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGormQueue_UpdateUnknownTask(t *testing.T) {
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	err := q.Finish(context.Background(), Task{ID: "missing"}, model.DeliveryFailed, "x")
	assert.ErrorIs(t, err, ErrStaleTask)
}

func TestGormQueue_PushWithoutPayload(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1}))

	row, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(row.Payload))
	assert.Equal(t, model.DeliveryPending, row.State)
}

func TestGormQueue_ExpiredWorkerCannotOverwriteReclaimer(t *testing.T) {
	ctx := context.Background()
	q := NewGormQueue(newSQLiteDB(t), time.Minute)
	require.NoError(t, q.Push(ctx, Task{ID: "a", SubscriptionID: 1, Payload: testPayload, MaxAttempts: 3}))

	now := time.Now().Add(time.Second)
	slow, err := q.Claim(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, slow)

	// The lease runs out and a second worker takes over.
	fast, err := q.Claim(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, fast)
	assert.Greater(t, fast.Version, slow.Version)

	fast.Attempt = 1
	require.NoError(t, q.Finish(ctx, *fast, model.DeliveryDelivered, ""))

	slow.Attempt = 1
	err = q.Reschedule(ctx, *slow, now.Add(time.Hour), "503")
	assert.ErrorIs(t, err, ErrStaleTask)
	err = q.Finish(ctx, *slow, model.DeliveryFailed, "503")
	assert.ErrorIs(t, err, ErrStaleTask)

	row, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, row.State)
	assert.Empty(t, row.LastError)
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long)), maxErrorText)
	assert.Equal(t, "short", truncate("short"))
}
