package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Links      LinksConfig      `yaml:"links"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
// A DSN prefixed with "sqlite:" selects the sqlite driver.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// AuthConfig holds the token signing configuration.
type AuthConfig struct {
	Secret            string        `yaml:"jwt_secret"`
	HookToken         string        `yaml:"hook_token"` // shared secret for the activity hooks
	Issuer            string        `yaml:"issuer"`
	TokenTTLMinutes   int           `yaml:"token_ttl_minutes"`
	IdentityCacheSecs int           `yaml:"identity_cache_seconds"`
	TokenTTL          time.Duration `yaml:"-"`
	IdentityCacheTTL  time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	Urgency    string `yaml:"urgency"`
}

// WorkerPoolConfig holds the configuration for the delivery worker pool.
type WorkerPoolConfig struct {
	Size                int           `yaml:"size"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	LeaseSeconds        int           `yaml:"lease_seconds"`
	PollInterval        time.Duration `yaml:"-"`
	Lease               time.Duration `yaml:"-"`
}

// DeliveryConfig is the retry policy applied to every push delivery task.
type DeliveryConfig struct {
	MaxAttempts           int           `yaml:"max_attempts"`
	BaseDelaySeconds      int           `yaml:"base_delay_seconds"`
	AttemptTimeoutSeconds int           `yaml:"attempt_timeout_seconds"`
	RetryUnknown          *bool         `yaml:"retry_unknown"`
	RetentionHours        int           `yaml:"retention_hours"`
	JanitorIntervalMins   int           `yaml:"janitor_interval_minutes"`
	BaseDelay             time.Duration `yaml:"-"`
	AttemptTimeout        time.Duration `yaml:"-"`
	Retention             time.Duration `yaml:"-"`
	JanitorInterval       time.Duration `yaml:"-"`
}

// RealtimeConfig holds websocket and fan-out settings.
type RealtimeConfig struct {
	OutboundBuffer      int           `yaml:"outbound_buffer"`
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	PongTimeoutSeconds  int           `yaml:"pong_timeout_seconds"`
	Broker              string        `yaml:"broker"` // "local" or "postgres"
	PostgresChannel     string        `yaml:"postgres_channel"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`
	WriteTimeout        time.Duration `yaml:"-"`
	PongTimeout         time.Duration `yaml:"-"`
}

// LinksConfig is used to build the url/icon/badge fields of push payloads.
type LinksConfig struct {
	ThreadURL string `yaml:"thread_url"` // fmt pattern taking the thread id
	Icon      string `yaml:"icon"`
	Badge     string `yaml:"badge"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that have no sensible fallback.
func (cfg *Config) Validate() error {
	switch cfg.Realtime.Broker {
	case "local", "postgres":
	default:
		return fmt.Errorf("realtime.broker must be \"local\" or \"postgres\", got %q", cfg.Realtime.Broker)
	}
	return nil
}

// ApplyDefaults fills every unset field and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "workthread"
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 60
	}
	if cfg.Auth.IdentityCacheSecs <= 0 {
		cfg.Auth.IdentityCacheSecs = 300
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	cfg.Auth.IdentityCacheTTL = time.Duration(cfg.Auth.IdentityCacheSecs) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.PollIntervalSeconds <= 0 {
		cfg.WorkerPool.PollIntervalSeconds = 2
	}
	if cfg.WorkerPool.LeaseSeconds <= 0 {
		cfg.WorkerPool.LeaseSeconds = 60
	}
	cfg.WorkerPool.PollInterval = time.Duration(cfg.WorkerPool.PollIntervalSeconds) * time.Second
	cfg.WorkerPool.Lease = time.Duration(cfg.WorkerPool.LeaseSeconds) * time.Second

	if cfg.Delivery.MaxAttempts <= 0 {
		cfg.Delivery.MaxAttempts = 3
	}
	if cfg.Delivery.BaseDelaySeconds <= 0 {
		cfg.Delivery.BaseDelaySeconds = 5
	}
	if cfg.Delivery.AttemptTimeoutSeconds <= 0 {
		cfg.Delivery.AttemptTimeoutSeconds = 10
	}
	if cfg.Delivery.RetryUnknown == nil {
		retry := true
		cfg.Delivery.RetryUnknown = &retry
	}
	if cfg.Delivery.RetentionHours <= 0 {
		cfg.Delivery.RetentionHours = 72
	}
	if cfg.Delivery.JanitorIntervalMins <= 0 {
		cfg.Delivery.JanitorIntervalMins = 30
	}
	cfg.Delivery.BaseDelay = time.Duration(cfg.Delivery.BaseDelaySeconds) * time.Second
	cfg.Delivery.AttemptTimeout = time.Duration(cfg.Delivery.AttemptTimeoutSeconds) * time.Second
	cfg.Delivery.Retention = time.Duration(cfg.Delivery.RetentionHours) * time.Hour
	cfg.Delivery.JanitorInterval = time.Duration(cfg.Delivery.JanitorIntervalMins) * time.Minute

	if cfg.Realtime.OutboundBuffer <= 0 {
		cfg.Realtime.OutboundBuffer = 32
	}
	if cfg.Realtime.WriteTimeoutSeconds <= 0 {
		cfg.Realtime.WriteTimeoutSeconds = 10
	}
	if cfg.Realtime.PongTimeoutSeconds <= 0 {
		cfg.Realtime.PongTimeoutSeconds = 60
	}
	if cfg.Realtime.Broker == "" {
		cfg.Realtime.Broker = "local"
	}
	if cfg.Realtime.PostgresChannel == "" {
		cfg.Realtime.PostgresChannel = "workthread_realtime"
	}
	cfg.Realtime.WriteTimeout = time.Duration(cfg.Realtime.WriteTimeoutSeconds) * time.Second
	cfg.Realtime.PongTimeout = time.Duration(cfg.Realtime.PongTimeoutSeconds) * time.Second

	if cfg.Links.ThreadURL == "" {
		cfg.Links.ThreadURL = "http://localhost:9002/dashboard/requests/%d/"
	}
}
