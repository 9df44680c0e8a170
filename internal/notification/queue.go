package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"workthread-notify-backend/internal/model"
)

// Queue holds delivery tasks between enqueue and a terminal outcome.
type Queue interface {
	// Push stores new tasks as due immediately.
	Push(ctx context.Context, tasks ...Task) error
	// Claim leases the oldest due task, or returns nil when none is due.
	Claim(ctx context.Context, now time.Time) (*Task, error)
	// Reschedule returns a claimed task to the queue, due at at.
	Reschedule(ctx context.Context, task Task, at time.Time, cause string) error
	// Finish records a terminal state for a claimed task.
	Finish(ctx context.Context, task Task, state model.DeliveryState, cause string) error
}

const maxErrorText = 1024

// ErrStaleTask is returned when a task was reclaimed by another worker after
// the caller's lease ran out.
var ErrStaleTask = errors.New("delivery task was reclaimed by another worker")

var emptyPayload = []byte("{}")

// GormQueue is an outbox table. Claims are leased: a task whose worker died
// mid-delivery becomes claimable again once its lease runs out.
type GormQueue struct {
	db    *gorm.DB
	lease time.Duration
}

// NewGormQueue creates a queue on the delivery_tasks table.
func NewGormQueue(db *gorm.DB, lease time.Duration) *GormQueue {
	return &GormQueue{db: db, lease: lease}
}

func (q *GormQueue) Push(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]model.DeliveryTask, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if len(t.Payload) == 0 {
			t.Payload = emptyPayload
		}
		rows = append(rows, model.DeliveryTask{
			ID:             t.ID,
			SubscriptionID: t.SubscriptionID,
			Payload:        t.Payload,
			State:          model.DeliveryPending,
			Attempt:        t.Attempt,
			MaxAttempts:    t.MaxAttempts,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := q.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("push delivery tasks: %w", err)
	}
	return nil
}

func (q *GormQueue) Claim(ctx context.Context, now time.Time) (*Task, error) {
	now = now.UTC()
	var row model.DeliveryTask
	err := q.db.WithContext(ctx).
		Where("(state = ? AND next_attempt_at <= ?) OR (state = ? AND lease_until < ?)",
			model.DeliveryPending, now, model.DeliveryRunning, now).
		Order("next_attempt_at").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find due task: %w", err)
	}

	leaseUntil := now.Add(q.lease)
	res := q.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]any{
			"state":       model.DeliveryRunning,
			"lease_until": leaseUntil,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("lease task %s: %w", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Another worker got there first.
		return nil, nil
	}

	return &Task{
		ID:             row.ID,
		SubscriptionID: row.SubscriptionID,
		Payload:        row.Payload,
		Attempt:        row.Attempt,
		MaxAttempts:    row.MaxAttempts,
		Version:        row.Version + 1,
	}, nil
}

func (q *GormQueue) Reschedule(ctx context.Context, task Task, at time.Time, cause string) error {
	return q.update(ctx, task, map[string]any{
		"state":           model.DeliveryPending,
		"attempt":         task.Attempt,
		"next_attempt_at": at.UTC(),
		"lease_until":     nil,
		"last_error":      truncate(cause),
	})
}

func (q *GormQueue) Finish(ctx context.Context, task Task, state model.DeliveryState, cause string) error {
	if !state.Terminal() {
		return fmt.Errorf("finish task %s: %q is not a terminal state", task.ID, state)
	}
	return q.update(ctx, task, map[string]any{
		"state":       state,
		"attempt":     task.Attempt,
		"lease_until": nil,
		"last_error":  truncate(cause),
	})
}

// update applies fields only if the row is still at the version the task
// was claimed with.
func (q *GormQueue) update(ctx context.Context, task Task, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	fields["version"] = gorm.Expr("version + 1")
	res := q.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Where("id = ? AND version = ?", task.ID, task.Version).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update task %s: %w", task.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, ErrStaleTask)
	}
	return nil
}

// Get loads one task row.
func (q *GormQueue) Get(ctx context.Context, id string) (model.DeliveryTask, error) {
	var row model.DeliveryTask
	err := q.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	return row, err
}

// Purge deletes terminal tasks last touched before the cutoff.
func (q *GormQueue) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", []model.DeliveryState{
			model.DeliveryDelivered, model.DeliverySkipped, model.DeliveryPruned, model.DeliveryFailed,
		}, before.UTC()).
		Delete(&model.DeliveryTask{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge delivery tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats counts tasks per state.
func (q *GormQueue) Stats(ctx context.Context) (map[model.DeliveryState]int64, error) {
	var rows []struct {
		State model.DeliveryState
		Count int64
	}
	if err := q.db.WithContext(ctx).Model(&model.DeliveryTask{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	stats := make(map[model.DeliveryState]int64, len(rows))
	for _, r := range rows {
		stats[r.State] = r.Count
	}
	return stats, nil
}

func truncate(s string) string {
	if len(s) > maxErrorText {
		return s[:maxErrorText]
	}
	return s
}
