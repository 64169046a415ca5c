package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_PATH", "MAILER_URL", "MAILER_SECRET", "MAILER_TIMEOUT",
		"REDIS_ADDR", "HTTP_ADDR", "PORT", "TICK_INTERVAL", "DB_BUSY_TIMEOUT",
		"HTTP_SHUTDOWN_TIMEOUT", "STATS_REFRESH_INTERVAL", "STATS_TTL",
		"UPDATE_CHECK_INTERVAL", "UPDATE_CHECK_URL", "METRICS_ENABLED",
		"METRICS_PATH", "METRICS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DatabasePath != "newsletterr.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.TickInterval != 60*time.Second {
		t.Errorf("TickInterval = %s, want 60s", cfg.TickInterval)
	}
	if cfg.MailerTimeout != 30*time.Second {
		t.Errorf("MailerTimeout = %s, want 30s", cfg.MailerTimeout)
	}
	if cfg.StatsTTL != 5*time.Minute {
		t.Errorf("StatsTTL = %s, want 5m", cfg.StatsTTL)
	}
	if cfg.MetricsPath != "/metrics" || cfg.MetricsAddr != ":9090" {
		t.Errorf("metrics defaults = %q %q", cfg.MetricsPath, cfg.MetricsAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MetricsEnabled {
		t.Error("metrics should default to disabled")
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")

	cfg := Load()
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
}

func TestLoad_ExplicitAddrWinsOverPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("PORT", "3000")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
}

func TestValidate_RequiresMailerURL(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error without MAILER_URL")
	}
	if !strings.Contains(err.Error(), "MAILER_URL") {
		t.Errorf("error does not name MAILER_URL: %v", err)
	}
}

func TestValidate_RejectsRelativeMailerURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILER_URL", "/send")

	if err := Validate(Load()); err == nil {
		t.Fatal("expected validation error for relative MAILER_URL")
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICK_INTERVAL", "banana")
	t.Setenv("LOG_LEVEL", "loud")

	err := Validate(Load())
	if err == nil {
		t.Fatal("expected validation errors")
	}
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("expected 3 errors (mailer url, tick interval, log level), got %d: %v", len(errs), err)
	}
}

func TestValidate_AcceptsGoodConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILER_URL", "http://localhost:8025/send")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	if err := Validate(Load()); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestMaskedJSON_HidesSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILER_URL", "http://localhost:8025/send")
	t.Setenv("MAILER_SECRET", "hunter2")

	out, err := Load().MaskedJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Error("secret leaked into masked output")
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["mailer_secret"] != "***" {
		t.Errorf("mailer_secret = %v, want ***", decoded["mailer_secret"])
	}
}

func TestMaskedJSON_EmptySecretStaysEmpty(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAILER_URL", "http://localhost:8025/send")

	out, err := Load().MaskedJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["mailer_secret"] != "" {
		t.Errorf("mailer_secret = %v, want empty", decoded["mailer_secret"])
	}
}
