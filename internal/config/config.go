// Package config loads and validates humancrawl configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/humancrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/humancrawl/internal/fetcher/colly"
	"github.com/JakeFAU/humancrawl/internal/learning"
	"github.com/JakeFAU/humancrawl/internal/policy/breaker"
	"github.com/JakeFAU/humancrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/humancrawl/internal/policy/retry"
)

// EnvPrefix namespaces environment overrides (HUMANCRAWL_RATE_LIMIT_BURST_SIZE).
const EnvPrefix = "HUMANCRAWL"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Auth           AuthConfig           `mapstructure:"auth"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Learning       LearningConfig       `mapstructure:"learning"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Stealth        StealthConfig        `mapstructure:"stealth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Sink           SinkConfig           `mapstructure:"sink"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CircuitBreakerConfig mirrors breaker.Config.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
}

// RateLimitConfig governs per-domain pacing.
type RateLimitConfig struct {
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`
	BurstSize              int     `mapstructure:"burst_size"`
	KeyByRegistrableDomain bool    `mapstructure:"key_by_registrable_domain"`
}

// RetryConfig configures advisory backoff.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LearningConfig tunes the Q-learner.
type LearningConfig struct {
	LearningRate   float64 `mapstructure:"learning_rate"`
	DiscountFactor float64 `mapstructure:"discount_factor"`
	Epsilon        float64 `mapstructure:"epsilon"`
	ReplayCapacity int     `mapstructure:"replay_capacity"`
}

// HTTPConfig configures the outbound request executor.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Proxies       []string      `mapstructure:"proxies"`
}

// StealthConfig selects the pacing scale.
type StealthConfig struct {
	Level string `mapstructure:"level"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// SinkConfig selects where crawl results are recorded. Empty values disable
// the corresponding sink.
type SinkConfig struct {
	MemoryCapacity int    `mapstructure:"memory_capacity"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	Table          string `mapstructure:"table"`
	EnsureSchema   bool   `mapstructure:"ensure_schema"`
	PubSubProject  string `mapstructure:"pubsub_project"`
	PubSubTopic    string `mapstructure:"pubsub_topic"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.requests_per_second", 10.0)
	v.SetDefault("server.burst", 20)
	v.SetDefault("server.request_timeout", 10*time.Minute)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.timeout", 60*time.Second)
	v.SetDefault("circuit_breaker.half_open_requests", 3)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst_size", 10)
	v.SetDefault("rate_limit.key_by_registrable_domain", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("learning.learning_rate", learning.DefaultLearningRate)
	v.SetDefault("learning.discount_factor", learning.DefaultDiscountFactor)
	v.SetDefault("learning.epsilon", learning.DefaultEpsilon)
	v.SetDefault("learning.replay_capacity", learning.DefaultReplayCapacity)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("stealth.level", string(crawler.StealthHigh))
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "humancrawl")
	v.SetDefault("sink.memory_capacity", 500)
	v.SetDefault("sink.table", "crawl_results")
	v.SetDefault("sink.gcs_bucket", "")
	v.SetDefault("sink.gcs_prefix", "bodies/")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestsPerSecond <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("server.requests_per_second and server.burst must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be > 0")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be > 0")
		}
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be > 0")
	}
	if c.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	if c.Learning.LearningRate <= 0 || c.Learning.LearningRate > 1 {
		return fmt.Errorf("learning.learning_rate must be in (0, 1]")
	}
	if c.Learning.Epsilon < 0 || c.Learning.Epsilon > 1 {
		return fmt.Errorf("learning.epsilon must be in [0, 1]")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if _, ok := crawler.StealthLevel(c.Stealth.Level).Scale(); !ok {
		return fmt.Errorf("stealth.level %q: %w", c.Stealth.Level, crawler.ErrUnknownStealthLevel)
	}
	if (c.Sink.PubSubProject == "") != (c.Sink.PubSubTopic == "") {
		return fmt.Errorf("sink.pubsub_project and sink.pubsub_topic must be set together")
	}
	return nil
}

// BreakerConfig converts the circuit_breaker section.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		Enabled:          c.CircuitBreaker.Enabled,
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		Timeout:          c.CircuitBreaker.Timeout,
		HalfOpenRequests: c.CircuitBreaker.HalfOpenRequests,
	}
}

// RateLimitConfig converts the rate_limit section.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		BurstSize:         c.RateLimit.BurstSize,
	}
}

// RetryConfig converts the retry section.
func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// LearningConfig converts the learning section, keeping replay tuning at
// its defaults.
func (c Config) LearningConfig() learning.Config {
	cfg := learning.DefaultConfig()
	cfg.LearningRate = c.Learning.LearningRate
	cfg.DiscountFactor = c.Learning.DiscountFactor
	cfg.Epsilon = c.Learning.Epsilon
	if c.Learning.ReplayCapacity > 0 {
		cfg.ReplayCapacity = c.Learning.ReplayCapacity
	}
	return cfg
}

// FetcherConfig converts the http section.
func (c Config) FetcherConfig() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:     c.HTTP.UserAgent,
		RespectRobots: c.HTTP.RespectRobots,
		Timeout:       c.HTTP.Timeout,
		MaxRedirects:  c.HTTP.MaxRedirects,
		// zero means do not follow redirects at all
		DisableRedirects: c.HTTP.MaxRedirects == 0,
		MaxBodyBytes:     c.HTTP.MaxBodyBytes,
	}
}

// StealthLevel returns the configured stealth level.
func (c Config) StealthLevel() crawler.StealthLevel {
	return crawler.StealthLevel(c.Stealth.Level)
}
