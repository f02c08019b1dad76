package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the sendlater application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`
	JWTSecret   string `json:"jwt_secret"`

	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	BatchSize int `json:"batch_size"`

	// LeaseDuration must exceed SendTimeout; Validate enforces it.
	LeaseDuration    time.Duration `json:"-"`
	LeaseDurationStr string        `json:"lease_duration"`

	SendTimeout    time.Duration `json:"-"`
	SendTimeoutStr string        `json:"send_timeout"`

	DispatchEnabled   bool `json:"dispatch_enabled"`
	DispatcherWorkers int  `json:"dispatcher_workers"`

	BackoffBase    time.Duration `json:"-"`
	BackoffBaseStr string        `json:"backoff_base"`
	BackoffMax     time.Duration `json:"-"`
	BackoffMaxStr  string        `json:"backoff_max"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	// ExclusiveDispatch: only the advisory-lock leader runs the dispatch loop.
	// Correctness never depends on it; it just avoids duplicate polling.
	ExclusiveDispatch bool `json:"exclusive_dispatch"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		JWTSecret:                  os.Getenv("JWT_SECRET"),
		GoogleClientID:             os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:         os.Getenv("GOOGLE_CLIENT_SECRET"),
		TickIntervalStr:            os.Getenv("TICK_INTERVAL"),
		LeaseDurationStr:           os.Getenv("LEASE_DURATION"),
		SendTimeoutStr:             os.Getenv("SEND_TIMEOUT"),
		BackoffBaseStr:             os.Getenv("BACKOFF_BASE"),
		BackoffMaxStr:              os.Getenv("BACKOFF_MAX"),
		DBOpTimeoutStr:             os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr:  os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:                os.Getenv("METRICS_ADDR"),
		MetricsPath:                os.Getenv("METRICS_PATH"),
		DispatchEnabled:            os.Getenv("DISPATCH_ENABLED") != "false",
		ExclusiveDispatch:          os.Getenv("EXCLUSIVE_DISPATCH") == "true",
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
	}

	cfg.BatchSize = intEnv("BATCH_SIZE", 50)
	cfg.DispatcherWorkers = intEnv("DISPATCHER_WORKERS", 4)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := strconv.ParseInt(lockKeyStr, 10, 64); err == nil && n > 0 {
			cfg.LeaderLockKey = n
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 442211", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 442211
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "15s"
	}
	if cfg.LeaseDurationStr == "" {
		cfg.LeaseDurationStr = "2m"
	}
	if cfg.SendTimeoutStr == "" {
		cfg.SendTimeoutStr = "30s"
	}
	if cfg.BackoffBaseStr == "" {
		cfg.BackoffBaseStr = "1m"
	}
	if cfg.BackoffMaxStr == "" {
		cfg.BackoffMaxStr = "1h"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaseDurationStr); err == nil {
		cfg.LeaseDuration = d
	}
	if d, err := time.ParseDuration(cfg.SendTimeoutStr); err == nil {
		cfg.SendTimeout = d
	}
	if d, err := time.ParseDuration(cfg.BackoffBaseStr); err == nil {
		cfg.BackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.BackoffMaxStr); err == nil {
		cfg.BackoffMax = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// intEnv reads a positive integer from the environment, falling back to def on
// absence or invalid input.
func intEnv(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		JWTSecret               string `json:"jwt_secret"`
		GoogleClientID          string `json:"google_client_id"`
		GoogleClientSecret      string `json:"google_client_secret"`
		TickInterval            string `json:"tick_interval"`
		BatchSize               int    `json:"batch_size"`
		LeaseDuration           string `json:"lease_duration"`
		SendTimeout             string `json:"send_timeout"`
		DispatchEnabled         bool   `json:"dispatch_enabled"`
		DispatcherWorkers       int    `json:"dispatcher_workers"`
		BackoffBase             string `json:"backoff_base"`
		BackoffMax              string `json:"backoff_max"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DispatcherDrainTimeout  string `json:"dispatcher_drain_timeout"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsAddr             string `json:"metrics_addr"`
		MetricsPath             string `json:"metrics_path"`
		ExclusiveDispatch       bool   `json:"exclusive_dispatch"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		JWTSecret:               maskSecret(c.JWTSecret),
		GoogleClientID:          c.GoogleClientID,
		GoogleClientSecret:      maskSecret(c.GoogleClientSecret),
		TickInterval:            c.TickIntervalStr,
		BatchSize:               c.BatchSize,
		LeaseDuration:           c.LeaseDurationStr,
		SendTimeout:             c.SendTimeoutStr,
		DispatchEnabled:         c.DispatchEnabled,
		DispatcherWorkers:       c.DispatcherWorkers,
		BackoffBase:             c.BackoffBaseStr,
		BackoffMax:              c.BackoffMaxStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:       c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DispatcherDrainTimeout:  c.DispatcherDrainTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsAddr:             c.MetricsAddr,
		MetricsPath:             c.MetricsPath,
		ExclusiveDispatch:       c.ExclusiveDispatch,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
