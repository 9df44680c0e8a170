package notification

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"workthread-notify-backend/internal/model"
	"workthread-notify-backend/internal/store"
)

// Outcome is what became of one run of a task.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"   // subscription no longer exists
	OutcomePruned    Outcome = "pruned"    // endpoint gone, subscription deleted
	OutcomeRetry     Outcome = "retry"     // failed, another attempt scheduled
	OutcomeExhausted Outcome = "exhausted" // failed, no attempts left
	OutcomeDropped   Outcome = "dropped"   // unknown failure and policy says no retry
)

// Result reports a single Deliver call.
type Result struct {
	Outcome Outcome
	// Attempts is the task's attempt count after this run.
	Attempts int
	Class    FailureClass
	Err      error
	// RetryAt is set when Outcome is OutcomeRetry.
	RetryAt time.Time
}

// SubscriptionSource is the part of the store a Worker needs.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id int64) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
}

// Worker delivers a task to its subscription and decides what happens next.
// It holds no per-task state and is safe for concurrent use.
type Worker struct {
	subs    SubscriptionSource
	sender  Sender
	webpush *webpush.Options
	policy  RetryPolicy
	now     func() time.Time
	log     zerolog.Logger
}

// NewWorker creates a Worker using the real web push sender.
func NewWorker(subs SubscriptionSource, webpushOptions *webpush.Options, policy RetryPolicy, log zerolog.Logger) *Worker {
	return &Worker{
		subs:    subs,
		sender:  &WebPushSender{},
		webpush: webpushOptions,
		policy:  policy,
		now:     time.Now,
		log:     log.With().Str("component", "delivery_worker").Logger(),
	}
}

// WithSender swaps the transport, mostly for tests.
func (w *Worker) WithSender(s Sender) *Worker {
	w.sender = s
	return w
}

// Policy returns the retry policy the worker applies.
func (w *Worker) Policy() RetryPolicy {
	return w.policy
}

// Deliver makes one attempt at task.
func (w *Worker) Deliver(ctx context.Context, task Task) Result {
	log := w.log.With().Str("task_id", task.ID).Int64("subscription_id", task.SubscriptionID).Int("attempt", task.Attempt+1).Logger()

	sub, err := w.subs.GetSubscription(ctx, task.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Msg("subscription already removed, nothing to deliver")
		return Result{Outcome: OutcomeSkipped, Attempts: task.Attempt}
	}
	if err != nil {
		return w.failed(log, task, ClassTransient, err)
	}

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.policy.AttemptTimeout)
	defer cancel()

	resp, err := w.sender.Send(attemptCtx, task.Payload, wpSub, w.webpush)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	class := Classify(resp, err)
	switch class {
	case ClassNone:
		log.Debug().Int("status", status).Msg("push delivered")
		return Result{Outcome: OutcomeDelivered, Attempts: task.Attempt + 1}

	case ClassPermanent:
		log.Info().Int("status", status).Str("endpoint", sub.Endpoint).Msg("endpoint gone, deleting subscription")
		if err := w.subs.DeleteSubscription(ctx, sub.ID); err != nil {
			log.Warn().Err(err).Msg("failed to delete expired subscription")
		}
		return Result{
			Outcome:  OutcomePruned,
			Attempts: task.Attempt + 1,
			Class:    class,
			Err:      &DeliveryError{Class: class, Status: status, Err: err},
		}
	}

	return w.failed(log, task, class, &DeliveryError{Class: class, Status: status, Err: err})
}

// failed decides between retrying and giving up on a non-permanent failure.
func (w *Worker) failed(log zerolog.Logger, task Task, class FailureClass, cause error) Result {
	attempts := task.Attempt + 1
	res := Result{Attempts: attempts, Class: class, Err: cause}

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.policy.MaxAttempts
	}
	policy := w.policy
	policy.MaxAttempts = maxAttempts

	switch {
	case class == ClassUnknown && !policy.RetryUnknown:
		log.Error().Err(cause).Msg("unknown delivery failure, not retrying")
		res.Outcome = OutcomeDropped
	case policy.Exhausted(attempts):
		log.Error().Err(cause).Int("max_attempts", maxAttempts).Msg("delivery failed, retries exhausted")
		res.Outcome = OutcomeExhausted
	default:
		res.Outcome = OutcomeRetry
		res.RetryAt = w.now().Add(policy.Delay(attempts))
		log.Warn().Err(cause).Str("class", class.String()).Time("retry_at", res.RetryAt).Msg("delivery failed, retrying")
	}
	return res
}
