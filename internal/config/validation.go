package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateMarket()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateStrategist()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateFeedback()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	valid := false
	for _, env := range validEnvs {
		if c.App.Environment == env {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be 'json' or 'console'", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateScheduler() ValidationErrors {
	var errors ValidationErrors

	if len(c.Scheduler.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.symbols",
			Message: "At least one watched symbol is required",
		})
	}
	for _, symbol := range c.Scheduler.Symbols {
		if strings.TrimSpace(symbol) == "" {
			errors = append(errors, ValidationError{
				Field:   "scheduler.symbols",
				Message: "Symbols must not be blank",
			})
			break
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.TimeZone); err != nil {
		errors = append(errors, ValidationError{
			Field:   "scheduler.time_zone",
			Message: fmt.Sprintf("Unknown time zone '%s'", c.Scheduler.TimeZone),
		})
	}

	tempoFields := map[string]time.Duration{
		"scheduler.tempo.volatile":             c.Scheduler.Tempo.Volatile,
		"scheduler.tempo.trending":             c.Scheduler.Tempo.Trending,
		"scheduler.tempo.ranging":              c.Scheduler.Tempo.Ranging,
		"scheduler.tempo.calm":                 c.Scheduler.Tempo.Calm,
		"scheduler.tempo.unknown":              c.Scheduler.Tempo.Unknown,
		"scheduler.session_overrides.off_hours": c.Scheduler.SessionOverrides.OffHours,
		"scheduler.session_overrides.midday":    c.Scheduler.SessionOverrides.Midday,
	}
	for field, d := range tempoFields {
		if d <= 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "Interval must be positive",
			})
		}
	}

	return errors
}

func (c *Config) validateMarket() ValidationErrors {
	var errors ValidationErrors

	if c.Market.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "market.base_url",
			Message: "Market data base URL is required",
		})
	}
	if c.Market.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "market.max_retries",
			Message: "Retry budget must not be negative",
		})
	}
	if c.Market.RatePerSec < 0 {
		errors = append(errors, ValidationError{
			Field:   "market.rate_per_sec",
			Message: "Rate limit must not be negative (zero disables the limiter)",
		})
	}

	return errors
}

func (c *Config) validateAgents() ValidationErrors {
	var errors ValidationErrors

	if c.Agents.DispatchURL == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.dispatch_url",
			Message: "Agent dispatch URL is required",
		})
	}
	if len(c.Agents.Registry) == 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.registry",
			Message: "At least one registered agent is required",
		})
	}
	seen := map[string]bool{}
	for _, agent := range c.Agents.Registry {
		if agent.Name == "" {
			errors = append(errors, ValidationError{
				Field:   "agents.registry",
				Message: "Agent name must not be empty",
			})
			continue
		}
		if seen[agent.Name] {
			errors = append(errors, ValidationError{
				Field:   "agents.registry",
				Message: fmt.Sprintf("Duplicate agent name '%s'", agent.Name),
			})
		}
		seen[agent.Name] = true
	}

	return errors
}

func (c *Config) validateStrategist() ValidationErrors {
	var errors ValidationErrors

	if !c.Strategist.Enabled {
		return errors
	}

	if c.Strategist.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "strategist.endpoint",
			Message: "Strategist endpoint is required when the strategist is enabled",
		})
	}
	if c.Strategist.DeepModel == "" || c.Strategist.FastModel == "" {
		errors = append(errors, ValidationError{
			Field:   "strategist.deep_model",
			Message: "Both deep and fast model names are required",
		})
	}
	if c.Strategist.Temperature < 0 || c.Strategist.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "strategist.temperature",
			Message: fmt.Sprintf("Temperature %.2f out of range [0, 2]", c.Strategist.Temperature),
		})
	}
	if c.Strategist.PeakTimeout > c.Strategist.Timeout {
		errors = append(errors, ValidationError{
			Field:   "strategist.peak_timeout",
			Message: "Peak timeout must not exceed the regular timeout",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d", c.Database.Port),
		})
	}
	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}
	if c.Database.PoolSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Pool size must be positive",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d", c.API.Port),
		})
	}
	if c.Monitoring.EnableMetrics {
		if c.Monitoring.PrometheusPort <= 0 || c.Monitoring.PrometheusPort > 65535 {
			errors = append(errors, ValidationError{
				Field:   "monitoring.prometheus_port",
				Message: fmt.Sprintf("Invalid port %d", c.Monitoring.PrometheusPort),
			})
		}
		if c.Monitoring.PrometheusPort == c.API.Port {
			errors = append(errors, ValidationError{
				Field:   "monitoring.prometheus_port",
				Message: "Metrics port must differ from the API port",
			})
		}
	}

	return errors
}

func (c *Config) validateFeedback() ValidationErrors {
	var errors ValidationErrors

	if c.Feedback.MinResolvedOutcomes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "feedback.min_resolved_outcomes",
			Message: "Resolved-outcome threshold must be positive",
		})
	}
	if c.Feedback.ProfitThresholdPct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "feedback.profit_threshold_pct",
			Message: "Profit threshold must be positive",
		})
	}

	return errors
}
