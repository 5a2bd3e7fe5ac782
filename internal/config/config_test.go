// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Upstream.Timeout != 15*time.Second {
		t.Errorf("expected upstream timeout 15s, got %s", cfg.Upstream.Timeout)
	}
	if !cfg.Relay.PrefixFirst {
		t.Error("expected prefix_first to default to true")
	}
	if cfg.Transport.ReconnectInterval != 5*time.Second {
		t.Errorf("expected reconnect interval 5s, got %s", cfg.Transport.ReconnectInterval)
	}
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("expected poller interval 5s, got %s", cfg.Poller.Interval)
	}
	if cfg.Poller.Window != 5*time.Minute {
		t.Errorf("expected poller window 5m, got %s", cfg.Poller.Window)
	}
	if cfg.Notifications.ProcessedCap != 200 {
		t.Errorf("expected processed cap 200, got %d", cfg.Notifications.ProcessedCap)
	}
	if cfg.Notifications.Capacity != 50 {
		t.Errorf("expected capacity 50, got %d", cfg.Notifications.Capacity)
	}
	if cfg.Notifications.DedupWindow != 5*time.Second {
		t.Errorf("expected dedup window 5s, got %s", cfg.Notifications.DedupWindow)
	}
	if cfg.Notifications.Stagger != 500*time.Millisecond {
		t.Errorf("expected stagger 500ms, got %s", cfg.Notifications.Stagger)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://tracker.example.com:8082")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("RELAY_PREFIX_FIRST", "false")
	t.Setenv("POLLER_INTERVAL", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.URL != "http://tracker.example.com:8082" {
		t.Errorf("expected env upstream URL, got %s", cfg.Upstream.URL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Relay.PrefixFirst {
		t.Error("expected prefix_first false from env")
	}
	if cfg.Poller.Interval != 10*time.Second {
		t.Errorf("expected poller interval 10s, got %s", cfg.Poller.Interval)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
upstream:
  url: http://gps.internal:8082
  timeout: 20s
notifications:
  capacity: 25
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Upstream.URL != "http://gps.internal:8082" {
		t.Errorf("expected file upstream URL, got %s", cfg.Upstream.URL)
	}
	if cfg.Upstream.Timeout != 20*time.Second {
		t.Errorf("expected timeout 20s, got %s", cfg.Upstream.Timeout)
	}
	if cfg.Notifications.Capacity != 25 {
		t.Errorf("expected capacity 25, got %d", cfg.Notifications.Capacity)
	}
	// Untouched sections keep defaults
	if cfg.Poller.Interval != 5*time.Second {
		t.Errorf("expected default poller interval, got %s", cfg.Poller.Interval)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing upstream url",
			mutate:  func(c *Config) { c.Upstream.URL = "" },
			wantErr: "upstream.url is required",
		},
		{
			name:    "bad upstream scheme",
			mutate:  func(c *Config) { c.Upstream.URL = "ftp://host" },
			wantErr: "http or https",
		},
		{
			name:    "zero upstream timeout",
			mutate:  func(c *Config) { c.Upstream.Timeout = 0 },
			wantErr: "upstream.timeout",
		},
		{
			name:    "reconnect interval too small",
			mutate:  func(c *Config) { c.Transport.ReconnectInterval = 100 * time.Millisecond },
			wantErr: "transport.reconnect_interval",
		},
		{
			name:    "poller window shorter than interval",
			mutate:  func(c *Config) { c.Poller.Window = time.Second },
			wantErr: "poller.window",
		},
		{
			name:    "zero processed cap",
			mutate:  func(c *Config) { c.Notifications.ProcessedCap = 0 },
			wantErr: "notifications.processed_cap",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *Config) { c.Notifications.Capacity = 0 },
			wantErr: "notifications.capacity",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestEnvTransformSkipsUnknown(t *testing.T) {
	t.Parallel()

	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("expected unknown env var to be skipped, got %q", got)
	}
	if got := envTransformFunc("UPSTREAM_URL"); got != "upstream.url" {
		t.Errorf("expected upstream.url, got %q", got)
	}
}
