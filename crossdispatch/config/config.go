package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Outbox   OutboxConfig   `yaml:"outbox"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	// URL empty keeps the outbox in process memory.
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	// URL empty disables webhook replay protection.
	URL string `yaml:"url"`
}

type WorkflowConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Namespace     string        `yaml:"namespace"`
	APIKey        string        `yaml:"api_key"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

type OutboxConfig struct {
	Table        string        `yaml:"table"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
	MaxRetries   int           `yaml:"max_retries"`
}

type WebhooksConfig struct {
	ReplayTTL time.Duration   `yaml:"replay_ttl"`
	Sources   []WebhookSource `yaml:"sources"`
}

type WebhookSource struct {
	Name            string `yaml:"name"`
	SignatureHeader string `yaml:"signature_header"`
	// SecretEnv names the environment variable holding the shared secret.
	SecretEnv string            `yaml:"secret_env"`
	TypeField string            `yaml:"type_field"`
	Events    map[string]string `yaml:"events"`

	Secret string `yaml:"-"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{MaxConns: 10},
		Workflow: WorkflowConfig{
			Namespace:     "commerce",
			CallTimeout:   10 * time.Second,
			HealthTimeout: 3 * time.Second,
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Outbox: OutboxConfig{
			Table:        "outbox_events",
			BatchSize:    100,
			Concurrency:  4,
			PollInterval: 5 * time.Second,
			LeaseTTL:     30 * time.Second,
			MaxRetries:   10,
		},
		Webhooks: WebhooksConfig{ReplayTTL: 24 * time.Hour},
		Log:      LogConfig{Level: "info"},
	}
}

// Load resolves defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	for i := range cfg.Webhooks.Sources {
		if env := cfg.Webhooks.Sources[i].SecretEnv; env != "" {
			cfg.Webhooks.Sources[i].Secret = strings.TrimSpace(os.Getenv(env))
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var result *multierror.Error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DISPATCH_HTTP_ADDR", &cfg.HTTP.Addr)
	str("DISPATCH_POSTGRES_URL", &cfg.Postgres.URL)
	str("DISPATCH_REDIS_URL", &cfg.Redis.URL)
	str("DISPATCH_WORKFLOW_ENDPOINT", &cfg.Workflow.Endpoint)
	str("DISPATCH_WORKFLOW_NAMESPACE", &cfg.Workflow.Namespace)
	str("DISPATCH_WORKFLOW_API_KEY", &cfg.Workflow.APIKey)
	str("DISPATCH_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("DISPATCH_OUTBOX_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("DISPATCH_OUTBOX_CONCURRENCY: %w", err))
		} else {
			cfg.Outbox.Concurrency = n
		}
	}
	if v, ok := lookup("DISPATCH_OUTBOX_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("DISPATCH_OUTBOX_POLL_INTERVAL: %w", err))
		} else {
			cfg.Outbox.PollInterval = d
		}
	}
	return result.ErrorOrNil()
}

var ErrInvalid = errors.New("config: invalid")

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	invalid := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.HTTP.Addr == "" {
		invalid("http.addr is empty")
	}
	if c.Postgres.MaxConns <= 0 {
		invalid("postgres.max_conns must be positive")
	}
	if c.Workflow.Endpoint != "" && !strings.HasPrefix(c.Workflow.Endpoint, "http://") && !strings.HasPrefix(c.Workflow.Endpoint, "https://") {
		invalid("workflow.endpoint %q must be an http(s) URL", c.Workflow.Endpoint)
	}
	if c.Workflow.Namespace == "" {
		invalid("workflow.namespace is empty")
	}
	if c.Workflow.CallTimeout <= 0 {
		invalid("workflow.call_timeout must be positive")
	}
	if c.Workflow.HealthTimeout <= 0 {
		invalid("workflow.health_timeout must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		invalid("outbox.batch_size must be positive")
	}
	if c.Outbox.Concurrency <= 0 {
		invalid("outbox.concurrency must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		invalid("outbox.poll_interval must be positive")
	}
	if c.Outbox.LeaseTTL <= 0 {
		invalid("outbox.lease_ttl must be positive")
	}
	if c.Outbox.MaxRetries <= 0 {
		invalid("outbox.max_retries must be positive")
	}
	if c.Webhooks.ReplayTTL <= 0 {
		invalid("webhooks.replay_ttl must be positive")
	}
	for i, src := range c.Webhooks.Sources {
		if src.Name == "" {
			invalid("webhooks.sources[%d].name is empty", i)
		}
		if len(src.Events) == 0 {
			invalid("webhooks.sources[%d].events is empty", i)
		}
		// Only a source without secret_env skips signature verification.
		if src.SecretEnv != "" && src.Secret == "" {
			invalid("webhooks.sources[%d]: secret_env %q is unset", i, src.SecretEnv)
		}
	}
	return result.ErrorOrNil()
}
