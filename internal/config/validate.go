package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/yyri/wecube-platform/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// EXPRESSION_SERVICE_URL is required and must be an absolute http(s) URL
	if cfg.ExpressionServiceURL == "" {
		errs = append(errs, ValidationError{
			Field:   "EXPRESSION_SERVICE_URL",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.ExpressionServiceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "EXPRESSION_SERVICE_URL",
			Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.ExpressionServiceURL),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"PLUGIN_CALL_TIMEOUT", cfg.PluginCallTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"EXPRESSION_TIMEOUT", cfg.ExpressionTimeoutStr},
		{"EXPRESSION_CACHE_TTL", cfg.ExpressionCacheTTLStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
	}
	for _, d := range durations {
		if err := validatePositiveDuration(d.value); err != "" {
			errs = append(errs, ValidationError{Field: d.field, Message: err})
		}
	}

	// ANALYTICS_RETENTION must cover at least one hourly bucket
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil && d > 0 && d < time.Hour {
		errs = append(errs, ValidationError{
			Field:   "ANALYTICS_RETENTION",
			Message: fmt.Sprintf("must be at least 1h, got %s", d),
		})
	}

	// LEADER_HEARTBEAT_INTERVAL must be shorter than LEADER_RETRY_INTERVAL
	if cfg.ReconcileEnabled && cfg.LeaderHeartbeatInterval > 0 && cfg.LeaderHeartbeatInterval >= cfg.LeaderRetryInterval {
		msg := fmt.Sprintf("must be shorter than LEADER_RETRY_INTERVAL (%s), got %s", cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval)
		errs = append(errs, ValidationError{
			Field:   "LEADER_HEARTBEAT_INTERVAL",
			Message: msg,
		})
	}

	// RECONCILE_SCHEDULE must be a 5-field cron expression or descriptor
	if cfg.ReconcileEnabled {
		if _, err := cron.NewParser().Parse(cfg.ReconcileSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RECONCILE_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if _, err := log.ParseLevel(cfg.LogLevel); cfg.LogLevel != "" && err != nil {
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be one of debug, info, warn, error, fatal, got %q", cfg.LogLevel),
		})
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'text' or 'json', got %q", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validatePositiveDuration returns an error message, or "" when s is a
// positive duration. Empty values are left to the defaults in Load.
func validatePositiveDuration(s string) string {
	if s == "" {
		return ""
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Sprintf("invalid duration: %v", err)
	}
	if d <= 0 {
		return fmt.Sprintf("must be positive, got %s", d)
	}
	return ""
}
