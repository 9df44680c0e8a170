package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Purger removes finished tasks.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Janitor keeps the outbox from growing without bound by deleting finished
// tasks once they are older than the retention window.
type Janitor struct {
	queue     Purger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(queue Purger, retention, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		queue:     queue,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log.With().Str("component", "janitor").Logger(),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.log.Info().Dur("retention", j.retention).Dur("interval", j.interval).Msg("starting outbox janitor")
	j.SweepOnce(ctx)

	timer := time.NewTimer(j.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("outbox janitor shutting down")
			return
		case <-timer.C:
			j.SweepOnce(ctx)
			timer.Reset(j.interval)
		}
	}
}

// SweepOnce purges every finished task older than the retention window.
func (j *Janitor) SweepOnce(ctx context.Context) int64 {
	purged, err := j.queue.Purge(ctx, j.now().Add(-j.retention))
	if err != nil {
		j.log.Error().Err(err).Msg("outbox purge failed")
		return 0
	}
	if purged > 0 {
		j.log.Info().Int64("purged", purged).Msg("purged finished delivery tasks")
	}
	return purged
}
