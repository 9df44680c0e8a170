package main

import (
	"fmt"
	"os"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"workthread-notify-backend/config"
	"workthread-notify-backend/internal/auth"
)

var opts struct {
	ConfigPath string
	LogLevel   string
	Pretty     bool
}

func main() {
	app := &cli.App{
		Name:  "notifyd",
		Usage: "work-thread realtime and push notification server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to the YAML configuration file",
				Value:       "./config/config.yaml",
				EnvVars:     []string{"CONFIG_PATH"},
				Destination: &opts.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &opts.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "pretty",
				Usage:       "human readable console logs",
				EnvVars:     []string{"LOG_PRETTY"},
				Destination: &opts.Pretty,
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			serveCommand(),
			vapidKeysCommand(),
			tokenCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("notifyd failed")
	}
}

func setupLogging(*cli.Context) error {
	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "notifyd").Logger()
	if opts.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = logger
	return nil
}

func vapidKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "vapid-keys",
		Usage: "generate a VAPID key pair for the push section of the config",
		Action: func(c *cli.Context) error {
			privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("generate vapid keys: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "vapid_public_key: %q\nvapid_private_key: %q\n", publicKey, privateKey)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	var (
		userID int64
		name   string
	)
	return &cli.Command{
		Name:  "token",
		Usage: "mint an access token for a user, for local testing",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user-id", Required: true, Destination: &userID},
			&cli.StringFlag{Name: "name", Destination: &name},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load configuration from %s: %w", opts.ConfigPath, err)
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			token, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Mint(userID, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
