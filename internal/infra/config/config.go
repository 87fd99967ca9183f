// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Target     TargetConfig     `yaml:"target"`
	Island     IslandConfig     `yaml:"island"`
	Probe      ProbeConfig      `yaml:"probe"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Server     ServerConfig     `yaml:"server"`
	Settings   SettingsConfig   `yaml:"settings"`
	Overlay    OverlayConfig    `yaml:"overlay"`
}

// TargetConfig identifies the tracked player.
type TargetConfig struct {
	Player      string `yaml:"player" default:"spotify" validate:"required"`
	WindowClass string `yaml:"window_class"` // WM_CLASS of the player window, defaults to Player
}

// IslandConfig represents state machine timing.
type IslandConfig struct {
	PauseAutoHideMs    int `yaml:"pause_auto_hide_ms" default:"45000" validate:"gte=1000,lte=600000"`
	StopDebounceMs     int `yaml:"stop_debounce_ms" default:"1000" validate:"gte=-1,lte=10000"` // -1 disables
	SessionLostGraceMs int `yaml:"session_lost_grace_ms" default:"0" validate:"gte=0,lte=60000"`
}

// ProbeConfig represents foreground/lock polling.
type ProbeConfig struct {
	IntervalMs         int `yaml:"interval_ms" default:"700" validate:"gte=100,lte=5000"`
	ForegroundWindowMs int `yaml:"foreground_window_ms" default:"30000" validate:"gte=1000,lte=300000"`
	StaleFallbackMs    int `yaml:"stale_fallback_ms" default:"20000" validate:"gte=0,lte=300000"`
}

// SupervisorConfig represents host supervision.
type SupervisorConfig struct {
	RescanIntervalMs int `yaml:"rescan_interval_ms" default:"5000" validate:"gte=500,lte=60000"`
	HeartbeatMs      int `yaml:"heartbeat_ms" default:"10000" validate:"gte=1000,lte=300000"`
}

// ServerConfig represents control API configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:"127.0.0.1:7219" validate:"required,hostname_port"`
	Token string      `yaml:"token"` // Empty disables authentication
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SettingsConfig represents settings persistence.
type SettingsConfig struct {
	DBPath string `yaml:"db_path"` // Empty uses the XDG data directory
}

// OverlayConfig represents the overlay surfaces.
type OverlayConfig struct {
	Surfaces []SurfaceConfig `yaml:"surfaces" validate:"required,min=1,dive"`
}

// SurfaceConfig represents a single overlay surface.
type SurfaceConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=desktop stream"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	cfg.applyImplicitDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ISLAND_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("ISLAND_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ISLAND_TARGET_PLAYER"); v != "" {
		c.Target.Player = v
	}
	if v := os.Getenv("ISLAND_SETTINGS_DB"); v != "" {
		c.Settings.DBPath = v
	}
}

// applyImplicitDefaults fills values derived from other fields.
func (c *Config) applyImplicitDefaults() {
	if c.Target.WindowClass == "" {
		c.Target.WindowClass = c.Target.Player
	}
	if len(c.Overlay.Surfaces) == 0 {
		c.Overlay.Surfaces = []SurfaceConfig{{Type: "desktop"}, {Type: "stream"}}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// PauseAutoHide returns the auto-hide delay while paused.
func (c *Config) PauseAutoHide() time.Duration {
	return ms(c.Island.PauseAutoHideMs)
}

// StopDebounce returns the stop/none debounce window after a pause.
// A negative window disables the debounce.
func (c *Config) StopDebounce() time.Duration {
	return ms(c.Island.StopDebounceMs)
}

// SessionLostGrace returns the lost-session grace period.
func (c *Config) SessionLostGrace() time.Duration {
	return ms(c.Island.SessionLostGraceMs)
}

// ProbeInterval returns the poll interval.
func (c *Config) ProbeInterval() time.Duration {
	return ms(c.Probe.IntervalMs)
}

// ForegroundWindow returns the usage event lookback window.
func (c *Config) ForegroundWindow() time.Duration {
	return ms(c.Probe.ForegroundWindowMs)
}

// StaleFallback returns how long the last foreground verdict is trusted.
func (c *Config) StaleFallback() time.Duration {
	return ms(c.Probe.StaleFallbackMs)
}

// RescanInterval returns the supervisor rescan interval.
func (c *Config) RescanInterval() time.Duration {
	return ms(c.Supervisor.RescanIntervalMs)
}

// Heartbeat returns the host liveness heartbeat period.
func (c *Config) Heartbeat() time.Duration {
	return ms(c.Supervisor.HeartbeatMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
