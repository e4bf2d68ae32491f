package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateService() error {
	base := strings.TrimSpace(c.Service.BaseURL)
	if base == "" {
		return errors.New("service.base_url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("service.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("service.base_url: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("service.base_url: missing host")
	}
	if c.Service.RequestTimeout <= 0 {
		return errors.New("service.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.JobsDir) == "" {
		return errors.New("paths.jobs_dir is required")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir is required")
	}
	return nil
}

func (c *Config) validatePolling() error {
	p := c.Polling
	if p.InitialDelay < 0 {
		return errors.New("polling.initial_delay must not be negative")
	}
	if p.PollInterval <= 0 {
		return errors.New("polling.poll_interval must be positive")
	}
	if p.BackoffInitial <= 0 {
		return errors.New("polling.backoff_initial must be positive")
	}
	if p.BackoffMax < p.BackoffInitial {
		return errors.New("polling.backoff_max must be at least backoff_initial")
	}
	if p.MaxTransientRetries < 0 {
		return errors.New("polling.max_transient_retries must not be negative")
	}
	if p.EventBuffer <= 0 {
		return errors.New("polling.event_buffer must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
