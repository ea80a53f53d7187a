package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Valid values for enumerated settings.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks a Config for structural problems: malformed URLs,
// unparseable durations, out-of-range enumerations. It does not check
// reachability; a valid config can still point at a dead endpoint.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Remote.BaseURL != "" {
		if err := validateBaseURL(cfg.Remote.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	if err := validateTimeout(cfg.Remote.Timeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueries(cfg.Sync.Queries); err != nil {
		errs = append(errs, err)
	}

	if !validLogLevels[cfg.Logging.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", cfg.Logging.LogLevel))
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format must be auto, text, or json, got %q", cfg.Logging.LogFormat))
	}

	return errors.Join(errs...)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("base_url %q is not a valid URL: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q must use http or https", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", raw)
	}

	return nil
}

func validateTimeout(raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("timeout %q is not a valid duration: %w", raw, err)
	}

	if d <= 0 {
		return fmt.Errorf("timeout must be positive, got %q", raw)
	}

	return nil
}

func validateQueries(queries []string) error {
	if len(queries) == 0 {
		return errors.New("queries must name at least one query")
	}

	seen := make(map[string]bool, len(queries))

	for _, q := range queries {
		if q == "" {
			return errors.New("queries must not contain empty names")
		}

		if seen[q] {
			return fmt.Errorf("query %q listed twice", q)
		}

		seen[q] = true
	}

	return nil
}

// Timeout returns the parsed remote timeout. Call after Validate.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}
