// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Remote        RemoteConfig        `yaml:"remote"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Collaborator  CollaboratorConfig  `yaml:"collaborator"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes how bearer tokens are verified. Tokens are HS256
// JWTs signed with the secret read from the SecretEnv variable.
type IdentityConfig struct {
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	SecretEnv string `yaml:"secret_env"`
	Disabled  bool   `yaml:"disabled"`
}

// Secret returns the signing secret from the environment.
func (c IdentityConfig) Secret() string {
	if c.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.SecretEnv)
}

// RemoteConfig describes the remote answer service.
type RemoteConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	Endpoints      EndpointsConfig      `yaml:"endpoints"`
}

// EndpointsConfig holds the path templates of the remote answer service.
// "{question_id}" is replaced with the escaped question id.
type EndpointsConfig struct {
	Generate string `yaml:"generate"`
	Update   string `yaml:"update"`
	Submit   string `yaml:"submit"`
	Versions string `yaml:"versions"`
	Analyze  string `yaml:"analyze"`
	Chat     string `yaml:"chat"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings. Retries are off by default; when
// enabled only read-only calls (version listing) are retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// WorkflowConfig describes the answer workflow store and its workers.
type WorkflowConfig struct {
	PerQuestionAnalyzing bool          `yaml:"per_question_analyzing"`
	ScopedErrors         bool          `yaml:"scoped_errors"`
	DrainTimeout         time.Duration `yaml:"drain_timeout"`
}

// CollaboratorConfig describes where question-list intents are sent.
type CollaboratorConfig struct {
	Driver  string `yaml:"driver"`
	Channel string `yaml:"channel"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
	Buffer  int    `yaml:"buffer"`
}

// NotificationsConfig describes where user-facing toasts are sent.
type NotificationsConfig struct {
	Driver  string `yaml:"driver"`
	Channel string `yaml:"channel"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
	History int    `yaml:"history"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Driver names.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverLog    = "log"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv: "ANSWERDESK_JWT_SECRET",
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:   5,
				SuccessThreshold:   2,
				Timeout:            30 * time.Second,
				ErrorRateThreshold: 0.5,
				ErrorRateWindow:    time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts:       1,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			Endpoints: DefaultEndpoints(),
		},
		Workflow: WorkflowConfig{
			DrainTimeout: 20 * time.Second,
		},
		Collaborator: CollaboratorConfig{
			Driver:  DriverMemory,
			Channel: "answerdesk.questions",
			AddrEnv: "ANSWERDESK_REDIS_ADDR",
			Buffer:  256,
		},
		Notifications: NotificationsConfig{
			Driver:  DriverLog,
			Channel: "answerdesk.notifications",
			AddrEnv: "ANSWERDESK_REDIS_ADDR",
			History: 100,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// DefaultEndpoints returns the path templates used by the answer service.
func DefaultEndpoints() EndpointsConfig {
	return EndpointsConfig{
		Generate: "/answers/{question_id}/generate",
		Update:   "/answers/{question_id}",
		Submit:   "/answers/submit",
		Versions: "/answers/{question_id}/versions",
		Analyze:  "/answers/analyze",
		Chat:     "/answers/chat",
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !c.Identity.Disabled {
		if c.Identity.Issuer == "" {
			errs = append(errs, "identity.issuer is required")
		}
		if c.Identity.SecretEnv == "" {
			errs = append(errs, "identity.secret_env is required")
		}
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, "remote.base_url is required")
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, "remote.timeout must not be negative")
	}
	if c.Workflow.DrainTimeout < 0 {
		errs = append(errs, "workflow.drain_timeout must not be negative")
	}

	switch c.Collaborator.Driver {
	case DriverMemory, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("collaborator.driver %q is not supported (memory, redis)", c.Collaborator.Driver))
	}
	switch c.Notifications.Driver {
	case DriverLog, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("notifications.driver %q is not supported (log, redis)", c.Notifications.Driver))
	}
	if c.Collaborator.Driver == DriverRedis && c.Collaborator.Channel == "" {
		errs = append(errs, "collaborator.channel is required for the redis driver")
	}
	if c.Notifications.Driver == DriverRedis && c.Notifications.Channel == "" {
		errs = append(errs, "notifications.channel is required for the redis driver")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ANSWERDESK_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANSWERDESK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ANSWERDESK_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("ANSWERDESK_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("ANSWERDESK_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("ANSWERDESK_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.Timeout = d
		}
	}
	if v := os.Getenv("ANSWERDESK_COLLABORATOR_DRIVER"); v != "" {
		cfg.Collaborator.Driver = v
	}
	if v := os.Getenv("ANSWERDESK_NOTIFICATIONS_DRIVER"); v != "" {
		cfg.Notifications.Driver = v
	}
	if v := os.Getenv("ANSWERDESK_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
