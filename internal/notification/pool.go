package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"workthread-notify-backend/internal/model"
)

// SubscriptionLister finds the endpoints of a set of users.
type SubscriptionLister interface {
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
}

// WorkerPool runs delivery tasks from a Queue on a fixed number of
// goroutines. Workers wake when a task is enqueued and poll for retries
// that have come due.
type WorkerPool struct {
	size         int
	queue        Queue
	worker       *Worker
	subs         SubscriptionLister
	pollInterval time.Duration
	wake         chan struct{}
	now          func() time.Time
	log          zerolog.Logger
	wg           sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, queue Queue, worker *Worker, subs SubscriptionLister, pollInterval time.Duration, log zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &WorkerPool{
		size:         size,
		queue:        queue,
		worker:       worker,
		subs:         subs,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		now:          time.Now,
		log:          log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the worker goroutines. They stop when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.run(ctx, i)
	}
}

// Wait blocks until every worker started by Start has returned.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) run(ctx context.Context, id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()
	log.Debug().Msg("worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil && wp.processOne(ctx, log) {
		}
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker shutting down")
			return
		case <-wp.wake:
		case <-ticker.C:
		}
	}
}

// Enqueue schedules delivery of payload to one subscription.
func (wp *WorkerPool) Enqueue(ctx context.Context, subscriptionID int64, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	task := Task{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		Payload:        body,
		MaxAttempts:    wp.worker.Policy().MaxAttempts,
	}
	if err := wp.queue.Push(ctx, task); err != nil {
		return "", err
	}
	wp.signal()
	return task.ID, nil
}

// EnqueueForUsers schedules one task per subscription owned by any of
// userIDs and returns how many were queued.
func (wp *WorkerPool) EnqueueForUsers(ctx context.Context, userIDs []int64, payload Payload) (int, error) {
	subs, err := wp.subs.SubscriptionsForUsers(ctx, userIDs)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	maxAttempts := wp.worker.Policy().MaxAttempts
	tasks := make([]Task, 0, len(subs))
	for _, sub := range subs {
		tasks = append(tasks, Task{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			Payload:        body,
			MaxAttempts:    maxAttempts,
		})
	}
	if err := wp.queue.Push(ctx, tasks...); err != nil {
		return 0, err
	}
	wp.signal()
	return len(tasks), nil
}

func (wp *WorkerPool) signal() {
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

// processOne claims and runs a single due task. It reports whether there
// was one.
func (wp *WorkerPool) processOne(ctx context.Context, log zerolog.Logger) bool {
	task, err := wp.queue.Claim(ctx, wp.now())
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("claiming delivery task failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	res := wp.worker.Deliver(ctx, *task)

	// The outcome is recorded even when shutdown interrupted the send, so
	// the task is not left leased.
	recordCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil && !settled(res.Outcome) {
		// Shutdown cut the send short. The push service never answered, so
		// the attempt is not charged and the task is due again right away.
		if err := wp.queue.Reschedule(recordCtx, *task, wp.now(), "interrupted by shutdown"); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("returning interrupted task failed")
		} else {
			log.Info().Str("task_id", task.ID).Int("attempt", task.Attempt).Msg("delivery interrupted by shutdown, task returned to queue")
		}
		return true
	}

	task.Attempt = res.Attempts
	cause := ""
	if res.Err != nil {
		cause = res.Err.Error()
	}

	switch res.Outcome {
	case OutcomeRetry:
		err = wp.queue.Reschedule(recordCtx, *task, res.RetryAt, cause)
	case OutcomeDelivered:
		err = wp.queue.Finish(recordCtx, *task, model.DeliveryDelivered, "")
	case OutcomeSkipped:
		err = wp.queue.Finish(recordCtx, *task, model.DeliverySkipped, "")
	case OutcomePruned:
		err = wp.queue.Finish(recordCtx, *task, model.DeliveryPruned, cause)
	default:
		err = wp.queue.Finish(recordCtx, *task, model.DeliveryFailed, cause)
	}
	switch {
	case errors.Is(err, ErrStaleTask):
		log.Warn().Err(err).Str("task_id", task.ID).Str("outcome", string(res.Outcome)).Msg("lease expired before the outcome was recorded")
	case err != nil:
		log.Error().Err(err).Str("task_id", task.ID).Str("outcome", string(res.Outcome)).Msg("recording delivery outcome failed")
	}
	return true
}

// settled reports whether an outcome reflects a real answer or decision that
// stands regardless of shutdown.
func settled(o Outcome) bool {
	switch o {
	case OutcomeDelivered, OutcomePruned, OutcomeSkipped:
		return true
	}
	return false
}
