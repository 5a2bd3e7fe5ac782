// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

// Package config loads and validates Fleetdeck configuration from
// defaults, an optional YAML file, and environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for Fleetdeck.
type Config struct {
	Upstream      UpstreamConfig      `koanf:"upstream"`
	Relay         RelayConfig         `koanf:"relay"`
	Transport     TransportConfig     `koanf:"transport"`
	Poller        PollerConfig        `koanf:"poller"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Database      DatabaseConfig      `koanf:"database"`
	Server        ServerConfig        `koanf:"server"`
	Security      SecurityConfig      `koanf:"security"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// UpstreamConfig describes the tracking server Fleetdeck fronts.
type UpstreamConfig struct {
	URL     string        `koanf:"url"`     // Base URL of the tracking server (http://localhost:8082)
	Token   string        `koanf:"token"`   // Optional bearer token used when no session cookie exists
	Timeout time.Duration `koanf:"timeout"` // Per-request timeout for upstream calls
}

// RelayConfig controls the session-relaying API gateway.
type RelayConfig struct {
	PrefixFirst bool `koanf:"prefix_first"` // Try the /api-prefixed candidate URL before the bare one
}

// TransportConfig controls the upstream WebSocket client.
type TransportConfig struct {
	Enabled           bool          `koanf:"enabled"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"` // Delay before a reconnection attempt
	HandshakeTimeout  time.Duration `koanf:"handshake_timeout"`
}

// PollerConfig controls the fallback event poller.
type PollerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"` // Time between polls
	Window   time.Duration `koanf:"window"`   // Lookback window for each poll
}

// NotificationsConfig controls the notification pipeline and store.
type NotificationsConfig struct {
	DedupWindow  time.Duration `koanf:"dedup_window"`  // Near-duplicate suppression window
	ProcessedCap int           `koanf:"processed_cap"` // Max remembered processed event IDs
	Stagger      time.Duration `koanf:"stagger"`       // Delay between presenting queued notifications
	Capacity     int           `koanf:"capacity"`      // Max stored notifications before eviction
	SoundEnabled bool          `koanf:"sound_enabled"` // Default sound preference for new clients
}

// DatabaseConfig configures the embedded Badger store.
type DatabaseConfig struct {
	Path     string `koanf:"path"`      // Directory for Badger data files
	InMemory bool   `koanf:"in_memory"` // Run Badger in memory (testing only)
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig configures rate limiting and CORS for the HTTP API.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency. It is called after
// all sources have been merged.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateUpstream,
		c.validateTransport,
		c.validatePoller,
		c.validateNotifications,
		c.validateServer,
		c.validateLogging,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.url must include a host")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	}
	return nil
}

func (c *Config) validateTransport() error {
	if !c.Transport.Enabled {
		return nil
	}
	if c.Transport.ReconnectInterval < time.Second {
		return fmt.Errorf("transport.reconnect_interval must be at least 1s, got %s", c.Transport.ReconnectInterval)
	}
	return nil
}

func (c *Config) validatePoller() error {
	if !c.Poller.Enabled {
		return nil
	}
	if c.Poller.Interval < time.Second {
		return fmt.Errorf("poller.interval must be at least 1s, got %s", c.Poller.Interval)
	}
	if c.Poller.Window < c.Poller.Interval {
		return fmt.Errorf("poller.window (%s) must not be shorter than poller.interval (%s)",
			c.Poller.Window, c.Poller.Interval)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.ProcessedCap <= 0 {
		return fmt.Errorf("notifications.processed_cap must be positive, got %d", c.Notifications.ProcessedCap)
	}
	if c.Notifications.Capacity <= 0 {
		return fmt.Errorf("notifications.capacity must be positive, got %d", c.Notifications.Capacity)
	}
	if c.Notifications.DedupWindow < 0 {
		return fmt.Errorf("notifications.dedup_window must not be negative, got %s", c.Notifications.DedupWindow)
	}
	if c.Notifications.Stagger < 0 {
		return fmt.Errorf("notifications.stagger must not be negative, got %s", c.Notifications.Stagger)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "":
	default:
		return fmt.Errorf("logging.level %q is not a recognized level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
