package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"workthread-notify-backend/config"
	"workthread-notify-backend/internal/activity"
	"workthread-notify-backend/internal/api"
	"workthread-notify-backend/internal/auth"
	"workthread-notify-backend/internal/db"
	"workthread-notify-backend/internal/notification"
	"workthread-notify-backend/internal/realtime"
	"workthread-notify-backend/internal/store"
)

const shutdownTimeout = 5 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP, websocket and delivery services",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	logger := log.Logger

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration from %s: %w", opts.ConfigPath, err)
	}
	logger.Info().Str("path", opts.ConfigPath).Msg("configuration loaded")

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		return errors.New("VAPID keys must be configured; run `notifyd vapid-keys` and add them to the config file")
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.jwt_secret must be configured")
	}
	if cfg.Auth.HookToken == "" {
		logger.Warn().Msg("auth.hook_token is not set; activity hooks will refuse every request")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
		Urgency:         webpush.Urgency(cfg.Push.Urgency),
	}

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return err
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	registry := realtime.NewRegistry(logger)
	var broker realtime.Broker = realtime.NewLocalBroker(registry)
	if cfg.Realtime.Broker == "postgres" {
		if !db.IsPostgres(cfg.Database.DSN) {
			return errors.New(`realtime.broker "postgres" needs a postgres database`)
		}
		pg := realtime.NewPostgresBroker(gormDB, cfg.Database.DSN, cfg.Realtime.PostgresChannel, registry, logger)
		g.Go(func() error { return pg.Listen(ctx) })
		broker = pg
	}
	notifier := realtime.NewNotifier(broker, logger)

	policy := notification.RetryPolicy{
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		BaseDelay:      cfg.Delivery.BaseDelay,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
		RetryUnknown:   *cfg.Delivery.RetryUnknown,
	}
	worker := notification.NewWorker(appStore, &webpushOptions, policy, logger)
	queue := notification.NewGormQueue(gormDB, cfg.WorkerPool.Lease)
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, queue, worker, appStore, cfg.WorkerPool.PollInterval, logger)
	pool.Start(ctx)
	g.Go(func() error {
		pool.Wait()
		return nil
	})

	janitor := notification.NewJanitor(queue, cfg.Delivery.Retention, cfg.Delivery.JanitorInterval, logger)
	g.Go(func() error {
		janitor.Run(ctx)
		return nil
	})

	issuer := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	router := api.NewRouter(api.Deps{
		BaseContext: ctx,
		Store:       appStore,
		WebPush:     &webpushOptions,
		Issuer:      issuer,
		HookToken:   cfg.Auth.HookToken,
		Gate:        auth.NewGate(issuer, appStore, cfg.Auth.IdentityCacheTTL, logger),
		Registry:    registry,
		Announcer:   activity.NewAnnouncer(notifier, pool, cfg.Links, logger),
		Outbox:      queue,
		Session: realtime.SessionConfig{
			OutboundBuffer: cfg.Realtime.OutboundBuffer,
			WriteTimeout:   cfg.Realtime.WriteTimeout,
			PongTimeout:    cfg.Realtime.PongTimeout,
		},
		Server:         cfg.Server,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		Log:            logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Int("port", cfg.Server.Port).Str("broker", cfg.Realtime.Broker).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server gracefully stopped")
	return nil
}
