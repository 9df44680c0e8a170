package api

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"workthread-notify-backend/internal/activity"
	"workthread-notify-backend/internal/model"
	"workthread-notify-backend/internal/realtime"
	"workthread-notify-backend/internal/store"
)

// Announcer publishes thread activity.
type Announcer interface {
	Announce(ctx context.Context, ev activity.Event) (activity.Report, error)
}

// OutboxStats reports delivery task counts.
type OutboxStats interface {
	Stats(ctx context.Context) (map[model.DeliveryState]int64, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	base      context.Context
	store     store.Store
	webpush   *webpush.Options
	gate      realtime.Authenticator
	registry  *realtime.Registry
	announcer Announcer
	outbox    OutboxStats
	upgrader  websocket.Upgrader
	session   realtime.SessionConfig
	log       zerolog.Logger
}

// NewHandler creates a new API handler from the router dependencies.
func NewHandler(d Deps) *Handler {
	base := d.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Handler{
		base:      base,
		store:     d.Store,
		webpush:   d.WebPush,
		gate:      d.Gate,
		registry:  d.Registry,
		announcer: d.Announcer,
		outbox:    d.Outbox,
		upgrader:  newUpgrader(d.AllowedOrigins),
		session:   d.Session,
		log:       d.Log.With().Str("component", "api").Logger(),
	}
}
