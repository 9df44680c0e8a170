package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// maxNotifyPayload is the postgres limit on a NOTIFY payload.
const maxNotifyPayload = 8000

// ErrFrameTooLarge is returned when a frame does not fit a NOTIFY payload.
var ErrFrameTooLarge = errors.New("frame exceeds notify payload limit")

// envelope is what travels over the postgres channel.
type envelope struct {
	Group string          `json:"g"`
	Frame json.RawMessage `json:"f"`
}

// PostgresBroker fans frames out across processes with LISTEN/NOTIFY. Every
// process, including the publisher, receives the notification on its Listen
// loop and publishes it into its own Registry.
type PostgresBroker struct {
	db       *gorm.DB
	dsn      string
	channel  string
	registry *Registry
	log      zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewPostgresBroker creates a broker publishing through db and listening on
// a dedicated connection opened from dsn.
func NewPostgresBroker(db *gorm.DB, dsn, channel string, registry *Registry, log zerolog.Logger) *PostgresBroker {
	return &PostgresBroker{
		db:         db,
		dsn:        dsn,
		channel:    channel,
		registry:   registry,
		log:        log.With().Str("component", "pg_broker").Str("channel", channel).Logger(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

func encodeEnvelope(g Group, frame []byte) (string, error) {
	body, err := json.Marshal(envelope{Group: g.String(), Frame: frame})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > maxNotifyPayload {
		return "", ErrFrameTooLarge
	}
	return string(body), nil
}

func (b *PostgresBroker) Publish(ctx context.Context, g Group, frame []byte) error {
	payload, err := encodeEnvelope(g, frame)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", b.channel, payload).Error
}

// Listen consumes notifications until ctx is cancelled, reconnecting with
// exponential backoff whenever the listening connection drops.
func (b *PostgresBroker) Listen(ctx context.Context) error {
	backoff := b.minBackoff
	for {
		err := b.listenOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn().Err(err).Dur("retry_in", backoff).Msg("listen connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}

func (b *PostgresBroker) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	b.log.Info().Msg("listening for realtime notifications")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.dispatch(n.Payload)
	}
}

// dispatch hands one received envelope to the local registry.
func (b *PostgresBroker) dispatch(payload string) int {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn().Err(err).Msg("dropping undecodable notification")
		return 0
	}
	g, err := ParseGroup(env.Group)
	if err != nil {
		b.log.Warn().Err(err).Msg("dropping notification for unknown group")
		return 0
	}
	return b.registry.Publish(g, env.Frame)
}
