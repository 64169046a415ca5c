package config

import (
	"fmt"
	"net/url"
	"time"
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

	// MAILER_URL is required
	if cfg.MailerURL == "" {
		errs = append(errs, ValidationError{
			Field:   "MAILER_URL",
			Message: "required",
		})
	} else if u, err := url.Parse(cfg.MailerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "MAILER_URL",
			Message: fmt.Sprintf("must be an absolute URL, got %q", cfg.MailerURL),
		})
	}

	for _, check := range []struct {
		field string
		raw   string
	}{
		{"MAILER_TIMEOUT", cfg.MailerTimeoutStr},
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"DB_BUSY_TIMEOUT", cfg.DBBusyTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"STATS_REFRESH_INTERVAL", cfg.StatsRefreshIntervalStr},
		{"STATS_TTL", cfg.StatsTTLStr},
		{"UPDATE_CHECK_INTERVAL", cfg.UpdateCheckIntervalStr},
	} {
		if check.raw == "" {
			continue
		}
		d, err := time.ParseDuration(check.raw)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   check.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   check.field,
				Message: "must be positive",
			})
		}
	}

	switch cfg.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be one of trace, debug, info, warn, error, got %q", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
