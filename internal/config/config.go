package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds all configuration for the batch execution service.
// Values are loaded from environment variables; see the cmd usage text for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsPort serves metrics on a separate listener when set.
	MetricsPort    string `json:"metrics_port,omitempty"`

	PluginCallTimeout    time.Duration `json:"-"`
	PluginCallTimeoutStr string        `json:"plugin_call_timeout"`

	// BatchWorkers: 1 runs the jobs of a batch strictly in order.
	BatchWorkers int `json:"batch_workers"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	ExpressionServiceURL  string        `json:"expression_service_url"`
	ExpressionTimeout     time.Duration `json:"-"`
	ExpressionTimeoutStr  string        `json:"expression_timeout"`
	// ExpressionCacheSize: 0 disables the expression cache.
	ExpressionCacheSize   int           `json:"expression_cache_size"`
	ExpressionCacheTTL    time.Duration `json:"-"`
	ExpressionCacheTTLStr string        `json:"expression_cache_ttl"`

	ReconcileEnabled  bool   `json:"reconcile_enabled"`
	ReconcileSchedule string `json:"reconcile_schedule"`

	// ReconcileThreshold must exceed the longest expected batch run.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval bounds the failover gap of the reconciler.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated lock connection to detect
	// local connection death. Must be shorter than LeaderRetryInterval.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// defaultLeaderLockKey is distinct from the migration lock.
const defaultLeaderLockKey = 728379

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		DBOpTimeoutStr:            envOr("DB_OP_TIMEOUT", "5s"),
		DBConnMaxLifetimeStr:      envOr("DB_CONN_MAX_LIFETIME", "30m"),
		DBConnMaxIdleTimeStr:      envOr("DB_CONN_MAX_IDLE_TIME", "5m"),
		HTTPShutdownTimeoutStr:    envOr("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               envOr("METRICS_PATH", "/metrics"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		PluginCallTimeoutStr:      envOr("PLUGIN_CALL_TIMEOUT", "30s"),
		CircuitBreakerCooldownStr: envOr("CIRCUIT_BREAKER_COOLDOWN", "2m"),
		ExpressionServiceURL:      os.Getenv("EXPRESSION_SERVICE_URL"),
		ExpressionTimeoutStr:      envOr("EXPRESSION_TIMEOUT", "10s"),
		ExpressionCacheTTLStr:     envOr("EXPRESSION_CACHE_TTL", "30s"),
		ReconcileEnabled:          os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileSchedule:         envOr("RECONCILE_SCHEDULE", "*/5 * * * *"),
		ReconcileThresholdStr:     envOr("RECONCILE_THRESHOLD", "1h"),
		AnalyticsRetentionStr:     envOr("ANALYTICS_RETENTION", "168h"),
		LogLevel:                  strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                 strings.ToLower(envOr("LOG_FORMAT", "text")),
	}

	cfg.DBMaxOpenConns = envPositiveInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envPositiveInt("DB_MAX_IDLE_CONNS", 5)
	cfg.BatchWorkers = envPositiveInt("BATCH_WORKERS", 1)
	cfg.ReconcileBatchSize = envPositiveInt("RECONCILE_BATCH_SIZE", 100)

	cfg.LeaderRetryIntervalStr = envOr("LEADER_RETRY_INTERVAL", "5s")
	cfg.LeaderHeartbeatIntervalStr = envOr("LEADER_HEARTBEAT_INTERVAL", "2s")
	cfg.LeaderLockKey = defaultLeaderLockKey
	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Warn("config: invalid value, using default", "key", "LEADER_LOCK_KEY", "value", s, "default", defaultLeaderLockKey)
		}
	}

	// Zero is meaningful for these two, so only malformed values fall back.
	cfg.CircuitBreakerThreshold = envNonNegativeInt("CIRCUIT_BREAKER_THRESHOLD", 5)
	cfg.ExpressionCacheSize = envNonNegativeInt("EXPRESSION_CACHE_SIZE", 1024)

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.DBOpTimeout = parseDuration(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = parseDuration(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = parseDuration(cfg.DBConnMaxIdleTimeStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.PluginCallTimeout = parseDuration(cfg.PluginCallTimeoutStr)
	cfg.CircuitBreakerCooldown = parseDuration(cfg.CircuitBreakerCooldownStr)
	cfg.ExpressionTimeout = parseDuration(cfg.ExpressionTimeoutStr)
	cfg.ExpressionCacheTTL = parseDuration(cfg.ExpressionCacheTTLStr)
	cfg.ReconcileThreshold = parseDuration(cfg.ReconcileThresholdStr)
	cfg.AnalyticsRetention = parseDuration(cfg.AnalyticsRetentionStr)
	cfg.LeaderRetryInterval = parseDuration(cfg.LeaderRetryIntervalStr)
	cfg.LeaderHeartbeatInterval = parseDuration(cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envPositiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Warn("config: invalid value, using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}

func envNonNegativeInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		log.Warn("config: invalid value, using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
