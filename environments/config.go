package environments

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Provider  ProviderConfig
	Dispatch  DispatchConfig
	Reconcile ReconcileConfig
	Aggregate AggregateConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string `envconfig:"SERVER_PORT" default:"8080"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST"     default:"localhost"`
	Port     string `envconfig:"DB_PORT"     default:"3306"`
	User     string `envconfig:"DB_USER"     default:"sms"`
	Password string `envconfig:"DB_PASSWORD" default:"sms123"`
	DBName   string `envconfig:"DB_NAME"     default:"sms_dispatch"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"     default:"localhost"`
	Port     string `envconfig:"REDIS_PORT"     default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB"       default:"0"`
}

// QueueConfig drives the job queue backend and the worker pool.
type QueueConfig struct {
	Backend         string        `envconfig:"QUEUE_BACKEND"           default:"redis"`
	Prefix          string        `envconfig:"QUEUE_PREFIX"            default:"smsq"`
	Concurrency     int           `envconfig:"QUEUE_CONCURRENCY"       default:"5"`
	MaxAttempts     int           `envconfig:"QUEUE_MAX_ATTEMPTS"      default:"5"`
	BackoffBase     time.Duration `envconfig:"QUEUE_BACKOFF_BASE"      default:"3s"`
	RateLimitMax    int           `envconfig:"QUEUE_RATE_LIMIT_MAX"    default:"20"`
	RateLimitWindow time.Duration `envconfig:"QUEUE_RATE_LIMIT_WINDOW" default:"1s"`
	LeaseTimeout    time.Duration `envconfig:"QUEUE_LEASE_TIMEOUT"     default:"5m"`
	PollInterval    time.Duration `envconfig:"QUEUE_POLL_INTERVAL"     default:"500ms"`
	ShutdownTimeout time.Duration `envconfig:"QUEUE_SHUTDOWN_TIMEOUT"  default:"30s"`
}

type ProviderConfig struct {
	BaseURL          string        `envconfig:"PROVIDER_BASE_URL"           default:"https://rest.mittoapi.net"`
	APIKey           string        `envconfig:"PROVIDER_API_KEY"`
	TrafficAccountID string        `envconfig:"PROVIDER_TRAFFIC_ACCOUNT_ID"`
	Sender           string        `envconfig:"PROVIDER_SENDER"             default:"Store"`
	Timeout          time.Duration `envconfig:"PROVIDER_TIMEOUT"            default:"15s"`
}

type DispatchConfig struct {
	BatchSize          int           `envconfig:"DISPATCH_BATCH_SIZE"           default:"100"`
	ForceIndividual    bool          `envconfig:"DISPATCH_FORCE_INDIVIDUAL"     default:"false"`
	AwaitDelivery      bool          `envconfig:"DISPATCH_AWAIT_DELIVERY"       default:"false"`
	ClaimLease         time.Duration `envconfig:"DISPATCH_CLAIM_LEASE"          default:"10m"`
	UnsubscribeBaseURL string        `envconfig:"DISPATCH_UNSUBSCRIBE_BASE_URL" default:"https://example.com/u"`
	OfferBaseURL       string        `envconfig:"DISPATCH_OFFER_BASE_URL"       default:""`
	TokenSecret        string        `envconfig:"DISPATCH_TOKEN_SECRET"`
}

type ReconcileConfig struct {
	SweepLimit      int           `envconfig:"RECONCILE_SWEEP_LIMIT"       default:"200"`
	SweepInterval   time.Duration `envconfig:"RECONCILE_SWEEP_INTERVAL"    default:"10m"`
	AutoStart       bool          `envconfig:"RECONCILE_AUTO_START"        default:"true"`
	AlertWebhookURL string        `envconfig:"RECONCILE_ALERT_WEBHOOK_URL" default:""`
	AlertThreshold  int           `envconfig:"RECONCILE_ALERT_THRESHOLD"   default:"3"`
}

type AggregateConfig struct {
	Debounce time.Duration `envconfig:"AGGREGATE_DEBOUNCE" default:"500ms"`
}

type AuthConfig struct {
	OpsAPIKey string `envconfig:"OPS_API_KEY"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, relying on process environment")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	return &cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Provider.APIKey == "":
		return fmt.Errorf("PROVIDER_API_KEY is required but not set")
	case c.Dispatch.TokenSecret == "":
		return fmt.Errorf("DISPATCH_TOKEN_SECRET is required but not set")
	case c.Auth.OpsAPIKey == "":
		return fmt.Errorf("OPS_API_KEY is required but not set")
	case c.Dispatch.BatchSize <= 0:
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.Dispatch.BatchSize)
	case c.Queue.Concurrency <= 0:
		return fmt.Errorf("QUEUE_CONCURRENCY must be positive, got %d", c.Queue.Concurrency)
	case c.Queue.MaxAttempts <= 0:
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive, got %d", c.Queue.MaxAttempts)
	case c.Queue.Backend != "redis" && c.Queue.Backend != "memory":
		return fmt.Errorf("QUEUE_BACKEND must be redis or memory, got %q", c.Queue.Backend)
	}
	return nil
}
