// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"kvweb/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test
// and polling intervals tight enough for fast tests.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Service.BaseURL = "http://127.0.0.1:0"
	cfg.Service.RequestTimeout = 5
	cfg.Paths.JobsDir = filepath.Join(base, "jobs")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Polling.InitialDelay = 0
	cfg.Polling.PollInterval = 1
	cfg.Polling.BackoffInitial = 1
	cfg.Polling.BackoffMax = 2
	cfg.Polling.MaxTransientRetries = 3

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBaseURL points the config at a test server.
func WithBaseURL(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Service.BaseURL = url
	}
}
