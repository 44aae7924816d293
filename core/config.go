package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the pipeline core.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("pipeline-core"),
//	    WithStoreBackend("redis"),
//	    WithRedisURL("redis://localhost:6379"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core identity
	Name      string `json:"name" yaml:"name" env:"PIPELINECORE_NAME"`
	Namespace string `json:"namespace" yaml:"namespace" env:"PIPELINECORE_NAMESPACE" default:"default"`

	// Store configuration (repository backend)
	Store StoreConfig `json:"store" yaml:"store"`

	// Billing client configuration
	Billing BillingConfig `json:"billing" yaml:"billing"`

	// Agent runtime client configuration
	Agent AgentConfig `json:"agent" yaml:"agent"`

	// Pipeline execution defaults
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Telemetry configuration (optional module)
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Resilience configuration
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Development configuration
	Development DevelopmentConfig `json:"development" yaml:"development"`

	// Logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-" yaml:"-"`
}

// StoreConfig selects and configures the repository persistence backend.
type StoreConfig struct {
	Backend   string `json:"backend" yaml:"backend" env:"PIPELINECORE_STORE_BACKEND" default:"memory"`
	RedisURL  string `json:"redis_url" yaml:"redis_url" env:"PIPELINECORE_REDIS_URL,REDIS_URL"`
	Namespace string `json:"namespace" yaml:"namespace" env:"PIPELINECORE_STORE_NAMESPACE" default:"pipelinecore"`
}

// BillingConfig configures the resilient billing client adapter.
type BillingConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url" env:"PIPELINECORE_BILLING_BASE_URL"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" env:"PIPELINECORE_BILLING_TIMEOUT" default:"10s"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts" env:"PIPELINECORE_BILLING_RETRY_ATTEMPTS" default:"3"`
}

// AgentConfig configures the resilient agent-runtime client adapter
// that backs ports.AgentExecutor.
type AgentConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url" env:"PIPELINECORE_AGENT_BASE_URL"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" env:"PIPELINECORE_AGENT_TIMEOUT" default:"30s"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts" env:"PIPELINECORE_AGENT_RETRY_ATTEMPTS" default:"3"`
}

// PipelineConfig configures pipeline-wide execution defaults.
type PipelineConfig struct {
	MaxRetries          int           `json:"max_retries" yaml:"max_retries" env:"PIPELINECORE_MAX_RETRIES" default:"3"`
	PauseExpiry         time.Duration `json:"pause_expiry" yaml:"pause_expiry" env:"PIPELINECORE_PAUSE_EXPIRY" default:"168h"`
}

// TelemetryConfig contains observability configuration for distributed
// tracing. This is an optional module - telemetry is only initialized
// when Enabled=true. Supports OpenTelemetry (OTEL) protocol.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"PIPELINECORE_TELEMETRY_ENABLED" default:"false"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" env:"PIPELINECORE_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string  `json:"service_name" yaml:"service_name" env:"PIPELINECORE_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" env:"PIPELINECORE_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure     bool    `json:"insecure" yaml:"insecure" env:"PIPELINECORE_TELEMETRY_INSECURE" default:"true"`
}

// ResilienceConfig contains fault tolerance and resilience patterns
// configuration, applied to the billing client and agent executor
// adapters.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	Timeout        TimeoutConfig        `json:"timeout" yaml:"timeout"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled" env:"PIPELINECORE_CB_ENABLED" default:"false"`
	Threshold        int           `json:"threshold" yaml:"threshold" env:"PIPELINECORE_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"PIPELINECORE_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" yaml:"half_open_requests" env:"PIPELINECORE_CB_HALF_OPEN" default:"3"`
}

// RetryConfig defines retry pattern settings with exponential backoff.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval)
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" env:"PIPELINECORE_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" env:"PIPELINECORE_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" env:"PIPELINECORE_RETRY_MAX_INTERVAL" default:"30s"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" env:"PIPELINECORE_RETRY_MULTIPLIER" default:"2.0"`
}

// TimeoutConfig defines timeout settings for various operations.
type TimeoutConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout" env:"PIPELINECORE_TIMEOUT_DEFAULT" default:"30s"`
	MaxTimeout     time.Duration `json:"max_timeout" yaml:"max_timeout" env:"PIPELINECORE_TIMEOUT_MAX" default:"5m"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"PIPELINECORE_LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" env:"PIPELINECORE_LOG_FORMAT" default:"json"`
	Output     string `json:"output" yaml:"output" env:"PIPELINECORE_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" yaml:"time_format" env:"PIPELINECORE_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.000Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
// When Enabled=true, the core uses development-friendly defaults:
// human-readable logs and debug logging.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"PIPELINECORE_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"PIPELINECORE_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" yaml:"pretty_logs" env:"PIPELINECORE_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the pipeline core.
// Options are applied in order and can return an error if the
// configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:      "pipelinecore",
		Namespace: "default",
		Store: StoreConfig{
			Backend:   "memory",
			Namespace: "pipelinecore",
		},
		Billing: BillingConfig{
			Timeout:       10 * time.Second,
			RetryAttempts: 3,
		},
		Agent: AgentConfig{
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
		},
		Pipeline: PipelineConfig{
			MaxRetries:  3,
			PauseExpiry: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1 * time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
			Timeout: TimeoutConfig{
				DefaultTimeout: 30 * time.Second,
				MaxTimeout:     5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Development: DevelopmentConfig{
			Enabled:      false,
			DebugLogging: false,
			PrettyLogs:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables and
// validates the result. Environment variables take precedence over
// defaults but are overridden by functional options.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PIPELINECORE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("PIPELINECORE_NAMESPACE"); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv("PIPELINECORE_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("PIPELINECORE_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if c.Store.RedisURL != "" && c.Store.Backend == "memory" {
		c.Store.Backend = "redis"
	}

	if v := os.Getenv("PIPELINECORE_BILLING_BASE_URL"); v != "" {
		c.Billing.BaseURL = v
	}
	if v := os.Getenv("PIPELINECORE_BILLING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Billing.Timeout = d
		}
	}

	if v := os.Getenv("PIPELINECORE_AGENT_BASE_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv("PIPELINECORE_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Agent.Timeout = d
		}
	}

	if v := os.Getenv("PIPELINECORE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxRetries = n
		}
	}
	if v := os.Getenv("PIPELINECORE_PAUSE_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pipeline.PauseExpiry = d
		}
	}

	if v := os.Getenv("PIPELINECORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("PIPELINECORE_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("PIPELINECORE_TELEMETRY_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.Name
	}

	if v := os.Getenv("PIPELINECORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PIPELINECORE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("PIPELINECORE_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("PIPELINECORE_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	if v := os.Getenv("PIPELINECORE_CB_ENABLED"); v != "" {
		c.Resilience.CircuitBreaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("PIPELINECORE_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resilience.Retry.MaxAttempts = n
		}
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("configuration validation failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. File
// settings override environment variables; when loaded through
// WithConfigFile they are overridden only by options applied after it.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error
// if not. Called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "redis URL is required for redis store backend",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown store backend: %s", c.Store.Backend),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Pipeline.MaxRetries < 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "pipeline max_retries must not be negative",
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// Helper functions

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the pipeline core's logical name, used for logging and
// telemetry service naming. If not set, defaults to "pipelinecore".
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithNamespace sets the logical namespace, used for multi-tenancy and
// environment separation (e.g., "production", "staging") and as a key
// prefix in the Redis store.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		c.Store.Namespace = namespace
		return nil
	}
}

// WithStoreBackend selects the repository persistence backend:
// "memory" or "redis".
func WithStoreBackend(backend string) Option {
	return func(c *Config) error {
		c.Store.Backend = backend
		return nil
	}
}

// WithRedisURL sets the Redis connection URL used by the Redis store
// backend. Format: redis://[user:password@]host:port/db
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Store.RedisURL = url
		c.Store.Backend = "redis"
		return nil
	}
}

// WithBillingBaseURL sets the base URL of the concrete billing service.
func WithBillingBaseURL(url string) Option {
	return func(c *Config) error {
		c.Billing.BaseURL = url
		return nil
	}
}

// WithAgentBaseURL sets the base URL of the downstream agent runtime.
func WithAgentBaseURL(url string) Option {
	return func(c *Config) error {
		c.Agent.BaseURL = url
		return nil
	}
}

// WithMaxRetries overrides the default per-step retry cap.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return &FrameworkError{
				Op:      "WithMaxRetries",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max retries: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Pipeline.MaxRetries = n
		return nil
	}
}

// WithTelemetry enables telemetry with the specified OTLP endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = c.Name
		}
		return nil
	}
}

// WithLogLevel sets the minimum logging level: "error", "warn", "info",
// or "debug".
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format: "json" or "text".
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithCircuitBreaker enables the circuit breaker pattern used by the
// billing client and agent executor adapters.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithRetry configures automatic retry with exponential backoff for the
// billing client and agent executor adapters.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file at its
// own position in the option list: options given after it override
// file settings, options given before it are overridden by them.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables development mode with developer-friendly
// defaults: pretty logs, debug level, text format.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithLogger sets a logger for configuration operations. If not set,
// configuration operations are performed silently.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation
// ============================================================================

// ProductionLogger is a minimal structured logger, used whenever no
// caller-supplied Logger is configured.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		format:      logging.Format,
		output:      output,
	}
}

// WithComponent returns a Logger scoped to the given component name,
// satisfying ComponentAwareLogger.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		if p.component != "" {
			logEntry["component"] = p.component
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}

	component := p.component
	if component == "" {
		component = p.serviceName
	}
	fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n",
		timestamp, level, component, msg, fieldStr.String())
}
