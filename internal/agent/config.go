// Package agent wires the device-side capture pipeline for one signed-in user.
package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/keepalive"
	"github.com/and161185/alertme/internal/model"
)

// Input sources.
const (
	SourceEvdev = "evdev"
	SourceStdin = "stdin"
)

// Config is the agent configuration file (agent.toml).
type Config struct {
	ServerURL string `toml:"server_url"`

	Capture   CaptureConfig   `toml:"capture"`
	Input     InputConfig     `toml:"input"`
	KeepAlive KeepAliveConfig `toml:"keepalive"`
	Feed      FeedConfig      `toml:"feed"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Registry  RegistryConfig  `toml:"registry"`
	Cache     CacheConfig     `toml:"cache"`
	Ack       AckConfig       `toml:"ack"`
}

// CaptureConfig holds the sequence buffer and lifecycle tunables.
type CaptureConfig struct {
	Timeout          time.Duration `toml:"timeout"`
	MaxLength        int           `toml:"max_length"` // at least model.MinSequenceLen
	StartCooldown    time.Duration `toml:"start_cooldown"`
	LivenessInterval time.Duration `toml:"liveness_interval"`
	Debounce         time.Duration `toml:"debounce"`
}

// InputConfig selects the EventSource.
type InputConfig struct {
	Source string `toml:"source"`
	Device string `toml:"device"` // evdev node; empty means discover
}

// KeepAliveConfig selects the KeepAlive implementation.
type KeepAliveConfig struct {
	Mode string `toml:"mode"`
}

// FeedConfig enables the local WebSocket feed when Addr is set.
type FeedConfig struct {
	Addr           string   `toml:"addr"`
	OriginPatterns []string `toml:"origin_patterns"`
}

// DispatchConfig tunes the trigger queue.
type DispatchConfig struct {
	Timeout time.Duration `toml:"timeout"`
	Queue   int           `toml:"queue"`
}

// RegistryConfig tunes the background combination sync. A failed refresh is retried
// with exponential backoff from RetryMin up to RetryMax; a successful one is repeated
// every RefreshInterval.
type RegistryConfig struct {
	RefreshInterval time.Duration `toml:"refresh_interval"`
	RetryMin        time.Duration `toml:"retry_min"`
	RetryMax        time.Duration `toml:"retry_max"`
}

// CacheConfig locates the durable combination cache.
type CacheConfig struct {
	Path string `toml:"path"`
}

// AckConfig enables the terminal bell per accepted press.
type AckConfig struct {
	Bell bool `toml:"bell"`
}

// DefaultConfig returns a configuration with every key set.
func DefaultConfig() *Config {
	return &Config{
		ServerURL: "http://localhost:8080",
		Capture: CaptureConfig{
			Timeout:          capture.DefaultTimeout,
			MaxLength:        capture.DefaultMaxLen,
			StartCooldown:    capture.DefaultStartCooldown,
			LivenessInterval: capture.DefaultLivenessInterval,
		},
		Input:     InputConfig{Source: SourceEvdev},
		KeepAlive: KeepAliveConfig{Mode: keepalive.ModeNone},
		Dispatch:  DispatchConfig{Timeout: 10 * time.Second, Queue: 16},
		Registry:  RegistryConfig{RefreshInterval: 5 * time.Minute, RetryMin: time.Second, RetryMax: time.Minute},
		Cache:     CacheConfig{Path: filepath.Join(StateDir(), "cache.db")},
	}
}

// ConfigDir is $XDG_CONFIG_HOME/alertme (or ~/.config/alertme).
func ConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "alertme")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "alertme")
}

// StateDir is $XDG_STATE_HOME/alertme (or ~/.local/state/alertme).
func StateDir() string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return filepath.Join(v, "alertme")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "alertme")
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string { return filepath.Join(ConfigDir(), "agent.toml") }

// LoadConfig reads path on top of the defaults, applies ALERTME_* overrides and
// validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if und := md.Undecoded(); len(und) > 0 {
			return nil, fmt.Errorf("decode %s: unknown keys %v", path, und)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies ALERTME_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("ALERTME_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("ALERTME_INPUT_SOURCE"); v != "" {
		c.Input.Source = v
	}
	if v := os.Getenv("ALERTME_INPUT_DEVICE"); v != "" {
		c.Input.Device = v
	}
	if v := os.Getenv("ALERTME_KEEPALIVE"); v != "" {
		c.KeepAlive.Mode = v
	}
	if v := os.Getenv("ALERTME_FEED_ADDR"); v != "" {
		c.Feed.Addr = v
	}
	if v := os.Getenv("ALERTME_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("ALERTME_CAPTURE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ALERTME_CAPTURE_TIMEOUT: %w", err)
		}
		c.Capture.Timeout = d
	}
	if v := os.Getenv("ALERTME_ACK_BELL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALERTME_ACK_BELL: %w", err)
		}
		c.Ack.Bell = b
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var problems []string
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		problems = append(problems, "server_url must be an http(s) URL")
	}
	if c.Capture.Timeout <= 0 {
		problems = append(problems, "capture.timeout must be positive")
	}
	if c.Capture.MaxLength < model.MinSequenceLen {
		problems = append(problems, fmt.Sprintf("capture.max_length must be >= %d", model.MinSequenceLen))
	}
	if c.Capture.StartCooldown < 0 || c.Capture.Debounce < 0 {
		problems = append(problems, "capture durations must not be negative")
	}
	if c.Capture.LivenessInterval <= 0 {
		problems = append(problems, "capture.liveness_interval must be positive")
	}
	switch c.Input.Source {
	case SourceEvdev, SourceStdin:
	default:
		problems = append(problems, fmt.Sprintf("input.source %q is not one of evdev, stdin", c.Input.Source))
	}
	switch c.KeepAlive.Mode {
	case keepalive.ModeNone, keepalive.ModeLogind:
	default:
		problems = append(problems, fmt.Sprintf("keepalive.mode %q is not one of none, logind", c.KeepAlive.Mode))
	}
	if c.Dispatch.Timeout <= 0 || c.Dispatch.Queue <= 0 {
		problems = append(problems, "dispatch.timeout and dispatch.queue must be positive")
	}
	if c.Registry.RefreshInterval <= 0 || c.Registry.RetryMin <= 0 || c.Registry.RetryMax < c.Registry.RetryMin {
		problems = append(problems, "registry intervals must be positive and retry_max >= retry_min")
	}
	if c.Cache.Path == "" {
		problems = append(problems, "cache.path is required")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// CaptureServiceConfig maps the file section to capture.Config.
func (c *Config) CaptureServiceConfig() capture.Config {
	return capture.Config{
		MaxLen:        c.Capture.MaxLength,
		Timeout:       c.Capture.Timeout,
		StartCooldown: c.Capture.StartCooldown,
		Debounce:      c.Capture.Debounce,
	}
}
