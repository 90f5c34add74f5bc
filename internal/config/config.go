// Package config loads and validates the process configuration from file and
// environment, and owns global logger setup and secret resolution.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marketmind/decisioncore/internal/agents"
	"github.com/marketmind/decisioncore/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Market     MarketConfig     `mapstructure:"market"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Strategist StrategistConfig `mapstructure:"strategist"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Feedback   FeedbackConfig   `mapstructure:"feedback"`
	Replay     ReplayConfig     `mapstructure:"replay"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// TempoDurations is the per-regime trigger interval table.
type TempoDurations struct {
	Volatile time.Duration `mapstructure:"volatile"`
	Trending time.Duration `mapstructure:"trending"`
	Ranging  time.Duration `mapstructure:"ranging"`
	Calm     time.Duration `mapstructure:"calm"`
	Unknown  time.Duration `mapstructure:"unknown"`
}

// SessionOverrides are the session intervals that win over the regime tempo.
type SessionOverrides struct {
	OffHours time.Duration `mapstructure:"off_hours"`
	Midday   time.Duration `mapstructure:"midday"`
}

// SchedulerConfig drives the per-symbol trigger loops.
type SchedulerConfig struct {
	Symbols          []string         `mapstructure:"symbols"`
	TimeZone         string           `mapstructure:"time_zone"`
	Tempo            TempoDurations   `mapstructure:"tempo"`
	SessionOverrides SessionOverrides `mapstructure:"session_overrides"`
}

// Location resolves the configured exchange time zone.
func (c *SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// CacheTTLConfig is the regime-dependent quote cache lifetime table.
type CacheTTLConfig struct {
	Volatile time.Duration `mapstructure:"volatile"`
	Trending time.Duration `mapstructure:"trending"`
	Ranging  time.Duration `mapstructure:"ranging"`
	Calm     time.Duration `mapstructure:"calm"`
}

// TTLOverrides converts the config table into the cache's override map.
func (c CacheTTLConfig) TTLOverrides() map[domain.MarketRegime]time.Duration {
	out := map[domain.MarketRegime]time.Duration{}
	if c.Volatile > 0 {
		out[domain.RegimeVolatile] = c.Volatile
	}
	if c.Trending > 0 {
		out[domain.RegimeTrending] = c.Trending
	}
	if c.Ranging > 0 {
		out[domain.RegimeRanging] = c.Ranging
	}
	if c.Calm > 0 {
		out[domain.RegimeCalm] = c.Calm
	}
	return out
}

// MarketConfig contains market-data vendor settings.
type MarketConfig struct {
	BaseURL    string         `mapstructure:"base_url"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	MaxRetries int            `mapstructure:"max_retries"`
	RatePerSec float64        `mapstructure:"rate_per_sec"`
	CacheTTL   CacheTTLConfig `mapstructure:"cache_ttl"`
}

// AgentsConfig contains the dispatch-service settings and the agent registry.
type AgentsConfig struct {
	DispatchURL string         `mapstructure:"dispatch_url"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Registry    []agents.Agent `mapstructure:"registry"`
}

// StrategistConfig contains the LLM strategist settings.
type StrategistConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	DeepModel   string        `mapstructure:"deep_model"`
	FastModel   string        `mapstructure:"fast_model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PeakTimeout time.Duration `mapstructure:"peak_timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig contains Redis settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NotifierConfig contains the decision webhook settings. An empty URL
// disables outbound notification.
type NotifierConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// APIConfig contains REST API settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// FeedbackConfig tunes the learning loop.
type FeedbackConfig struct {
	MinResolvedOutcomes int     `mapstructure:"min_resolved_outcomes"`
	ProfitThresholdPct  float64 `mapstructure:"profit_threshold_pct"`
}

// ReplayConfig contains the replay transport settings.
type ReplayConfig struct {
	HeaderName string `mapstructure:"header_name"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DECISIONCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "decisioncore")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Scheduler defaults: NSE symbols and tempo table
	v.SetDefault("scheduler.symbols", []string{"NIFTY50", "RELIANCE"})
	v.SetDefault("scheduler.time_zone", "Asia/Kolkata")
	v.SetDefault("scheduler.tempo.volatile", "30s")
	v.SetDefault("scheduler.tempo.trending", "2m")
	v.SetDefault("scheduler.tempo.ranging", "5m")
	v.SetDefault("scheduler.tempo.calm", "10m")
	v.SetDefault("scheduler.tempo.unknown", "5m")
	v.SetDefault("scheduler.session_overrides.off_hours", "30m")
	v.SetDefault("scheduler.session_overrides.midday", "15m")

	// Market data defaults
	v.SetDefault("market.base_url", "http://localhost:8090")
	v.SetDefault("market.timeout", "4s")
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.rate_per_sec", 5.0)
	v.SetDefault("market.cache_ttl.volatile", "2m")
	v.SetDefault("market.cache_ttl.trending", "5m")
	v.SetDefault("market.cache_ttl.ranging", "7m")
	v.SetDefault("market.cache_ttl.calm", "10m")

	// Agent dispatch defaults: the four production agents
	v.SetDefault("agents.dispatch_url", "http://localhost:8091/dispatch")
	v.SetDefault("agents.timeout", "30s")
	v.SetDefault("agents.registry", []map[string]any{
		{"name": "trend-agent", "capability": string(domain.CapabilityTrend)},
		{"name": "risk-agent", "capability": string(domain.CapabilityRisk)},
		{"name": "portfolio-agent", "capability": string(domain.CapabilityPortfolio)},
		{"name": "discipline-agent", "capability": string(domain.CapabilityDiscipline)},
	})

	// Strategist defaults
	v.SetDefault("strategist.enabled", true)
	v.SetDefault("strategist.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("strategist.deep_model", "claude-sonnet-4-20250514")
	v.SetDefault("strategist.fast_model", "claude-3-5-haiku-20241022")
	v.SetDefault("strategist.timeout", "4s")
	v.SetDefault("strategist.peak_timeout", "1200ms")
	v.SetDefault("strategist.temperature", 0.3)
	v.SetDefault("strategist.max_tokens", 1200)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "decisioncore")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Notifier defaults: disabled unless a URL is configured
	v.SetDefault("notifier.url", "")
	v.SetDefault("notifier.timeout", "5s")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Learning loop defaults
	v.SetDefault("feedback.min_resolved_outcomes", 5)
	v.SetDefault("feedback.profit_threshold_pct", 0.10)

	// Replay transport defaults
	v.SetDefault("replay.header_name", "X-Replay-Mode")
}
