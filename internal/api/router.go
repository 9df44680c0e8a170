package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"workthread-notify-backend/config"
	"workthread-notify-backend/internal/auth"
	"workthread-notify-backend/internal/mw"
	"workthread-notify-backend/internal/realtime"
	"workthread-notify-backend/internal/store"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	// BaseContext ends every websocket session when cancelled.
	BaseContext    context.Context
	Store          store.Store
	WebPush        *webpush.Options
	Issuer         *auth.Issuer
	HookToken      string
	Gate           realtime.Authenticator
	Registry       *realtime.Registry
	Announcer      Announcer
	Outbox         OutboxStats
	Session        realtime.SessionConfig
	Server         config.ServerConfig
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(d.Log), gin.Recovery())

	handler := NewHandler(d)

	limiter := mw.NewIPRateLimiter(rate.Limit(d.Server.RateLimitPerSec), d.Server.RateLimitBurst, 10*time.Minute)
	rateLimiter := mw.RateLimiter(limiter)

	cacheTTL := time.Duration(d.Server.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(cacheTTL, 2*cacheTTL), cacheTTL)

	bearer := mw.BearerAuth(d.Issuer)
	hook := mw.HookToken(d.HookToken)

	ws := r.Group("/ws")
	ws.Use(rateLimiter)
	{
		ws.GET("/threads/:thread_id", handler.ThreadSocket)
		ws.GET("/dashboard", handler.DashboardSocket)
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		api.POST("/push/subscriptions", bearer, handler.SaveSubscription)
		api.POST("/push/subscriptions/delete", bearer, handler.DeleteSubscription)

		api.POST("/threads/:thread_id/activity", hook, bearer, handler.PostActivity)
		api.POST("/reminders/activity", hook, bearer, handler.PostReminder)
		api.GET("/delivery/stats", bearer, handler.GetDeliveryStats)
	}

	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
