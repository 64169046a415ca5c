package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the newsletterr daemon.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabasePath string `json:"database_path"`
	MailerURL    string `json:"mailer_url"`
	MailerSecret string `json:"mailer_secret"`
	RedisAddr    string `json:"redis_addr,omitempty"`
	HTTPAddr     string `json:"http_addr"`

	MailerTimeout    time.Duration `json:"-"`
	MailerTimeoutStr string        `json:"mailer_timeout"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	DBBusyTimeout    time.Duration `json:"-"`
	DBBusyTimeoutStr string        `json:"db_busy_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	StatsRefreshInterval    time.Duration `json:"-"`
	StatsRefreshIntervalStr string        `json:"stats_refresh_interval"`

	// StatsTTL should exceed StatsRefreshInterval so readers never see gaps.
	StatsTTL    time.Duration `json:"-"`
	StatsTTLStr string        `json:"stats_ttl"`

	UpdateCheckInterval    time.Duration `json:"-"`
	UpdateCheckIntervalStr string        `json:"update_check_interval"`
	UpdateCheckURL         string        `json:"update_check_url,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsAddr    string `json:"metrics_addr"`

	LogLevel string `json:"log_level"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabasePath:            os.Getenv("DATABASE_PATH"),
		MailerURL:               os.Getenv("MAILER_URL"),
		MailerSecret:            os.Getenv("MAILER_SECRET"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		HTTPAddr:                os.Getenv("HTTP_ADDR"),
		MailerTimeoutStr:        os.Getenv("MAILER_TIMEOUT"),
		TickIntervalStr:         os.Getenv("TICK_INTERVAL"),
		DBBusyTimeoutStr:        os.Getenv("DB_BUSY_TIMEOUT"),
		HTTPShutdownTimeoutStr:  os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		StatsRefreshIntervalStr: os.Getenv("STATS_REFRESH_INTERVAL"),
		StatsTTLStr:             os.Getenv("STATS_TTL"),
		UpdateCheckIntervalStr:  os.Getenv("UPDATE_CHECK_INTERVAL"),
		UpdateCheckURL:          os.Getenv("UPDATE_CHECK_URL"),
		MetricsEnabled:          os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:             os.Getenv("METRICS_PATH"),
		MetricsAddr:             os.Getenv("METRICS_ADDR"),
		LogLevel:                os.Getenv("LOG_LEVEL"),
	}

	// Support platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "newsletterr.db"
	}
	if cfg.MailerTimeoutStr == "" {
		cfg.MailerTimeoutStr = "30s"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "60s"
	}
	if cfg.DBBusyTimeoutStr == "" {
		cfg.DBBusyTimeoutStr = "5s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.StatsRefreshIntervalStr == "" {
		cfg.StatsRefreshIntervalStr = "1m"
	}
	if cfg.StatsTTLStr == "" {
		cfg.StatsTTLStr = "5m"
	}
	if cfg.UpdateCheckIntervalStr == "" {
		cfg.UpdateCheckIntervalStr = "24h"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.MailerTimeoutStr); err == nil {
		cfg.MailerTimeout = d
	}
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.DBBusyTimeoutStr); err == nil {
		cfg.DBBusyTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.StatsRefreshIntervalStr); err == nil {
		cfg.StatsRefreshInterval = d
	}
	if d, err := time.ParseDuration(cfg.StatsTTLStr); err == nil {
		cfg.StatsTTL = d
	}
	if d, err := time.ParseDuration(cfg.UpdateCheckIntervalStr); err == nil {
		cfg.UpdateCheckInterval = d
	}

	if cfg.StatsTTL > 0 && cfg.StatsRefreshInterval > 0 && cfg.StatsTTL < cfg.StatsRefreshInterval {
		log.Printf("config: STATS_TTL %s is shorter than STATS_REFRESH_INTERVAL %s, readers will see cache misses", cfg.StatsTTLStr, cfg.StatsRefreshIntervalStr)
	}

	return cfg
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabasePath         string `json:"database_path"`
		MailerURL            string `json:"mailer_url"`
		MailerSecret         string `json:"mailer_secret"`
		RedisAddr            string `json:"redis_addr,omitempty"`
		HTTPAddr             string `json:"http_addr"`
		MailerTimeout        string `json:"mailer_timeout"`
		TickInterval         string `json:"tick_interval"`
		DBBusyTimeout        string `json:"db_busy_timeout"`
		HTTPShutdownTimeout  string `json:"http_shutdown_timeout"`
		StatsRefreshInterval string `json:"stats_refresh_interval"`
		StatsTTL             string `json:"stats_ttl"`
		UpdateCheckInterval  string `json:"update_check_interval"`
		UpdateCheckURL       string `json:"update_check_url,omitempty"`
		MetricsEnabled       bool   `json:"metrics_enabled"`
		MetricsPath          string `json:"metrics_path"`
		MetricsAddr          string `json:"metrics_addr"`
		LogLevel             string `json:"log_level"`
	}{
		DatabasePath:         c.DatabasePath,
		MailerURL:            c.MailerURL,
		MailerSecret:         maskSecret(c.MailerSecret),
		RedisAddr:            c.RedisAddr,
		HTTPAddr:             c.HTTPAddr,
		MailerTimeout:        c.MailerTimeoutStr,
		TickInterval:         c.TickIntervalStr,
		DBBusyTimeout:        c.DBBusyTimeoutStr,
		HTTPShutdownTimeout:  c.HTTPShutdownTimeoutStr,
		StatsRefreshInterval: c.StatsRefreshIntervalStr,
		StatsTTL:             c.StatsTTLStr,
		UpdateCheckInterval:  c.UpdateCheckIntervalStr,
		UpdateCheckURL:       c.UpdateCheckURL,
		MetricsEnabled:       c.MetricsEnabled,
		MetricsPath:          c.MetricsPath,
		MetricsAddr:          c.MetricsAddr,
		LogLevel:             c.LogLevel,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value entirely.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
