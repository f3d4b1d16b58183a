// Package config loads client settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"mindfry/logging"
	"mindfry/transport"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	defaultNetwork      = transport.NetworkTCP
	defaultAddr         = "127.0.0.1:9527"
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultLogLevel     = "info"
	defaultLogFormat    = logging.FormatConsole
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the on-disk client configuration. Durations are in milliseconds.
type Config struct {
	Network        string `toml:"network"`
	Addr           string `toml:"addr"`
	DialTimeoutMs  int64  `toml:"dial_timeout_ms"`
	WriteTimeoutMs int64  `toml:"write_timeout_ms"`
	UserTimeoutMs  int64  `toml:"user_timeout_ms"`

	Pipeline PipelineConfig `toml:"pipeline"`
	Log      LogConfig      `toml:"log"`
}

type PipelineConfig struct {
	TimeoutMs       int64 `toml:"timeout_ms"`
	MaxPending      int   `toml:"max_pending"`
	SweepIntervalMs int64 `toml:"sweep_interval_ms"`
	MaxFrameSize    int   `toml:"max_frame_size"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	NoColor bool   `toml:"no_color"`
}

// Default returns a configuration with every field set to its default.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads and validates the file at path. Missing fields take defaults.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes TOML text. Used by tests and for embedded configuration.
func Parse(data string) (Config, error) {
	var c Config
	if _, err := toml.Decode(data, &c); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = defaultNetwork
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.DialTimeoutMs == 0 {
		c.DialTimeoutMs = defaultDialTimeout.Milliseconds()
	}
	if c.WriteTimeoutMs == 0 {
		c.WriteTimeoutMs = defaultWriteTimeout.Milliseconds()
	}
	def := transport.DefaultConfig()
	if c.Pipeline.TimeoutMs == 0 {
		c.Pipeline.TimeoutMs = def.Timeout.Milliseconds()
	}
	if c.Pipeline.MaxPending == 0 {
		c.Pipeline.MaxPending = def.MaxPending
	}
	if c.Pipeline.SweepIntervalMs == 0 {
		c.Pipeline.SweepIntervalMs = def.SweepInterval.Milliseconds()
	}
	if c.Pipeline.MaxFrameSize == 0 {
		c.Pipeline.MaxFrameSize = def.MaxFrameSize
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
}

// Validate rejects values the client cannot run with.
func (c Config) Validate() error {
	if !transport.SupportedNetwork(c.Network) {
		return fmt.Errorf("%w: unsupported network %q", ErrInvalidConfig, c.Network)
	}
	if c.DialTimeoutMs < 0 || c.WriteTimeoutMs < 0 || c.UserTimeoutMs < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Pipeline.TimeoutMs < 0 || c.Pipeline.SweepIntervalMs < 0 {
		return fmt.Errorf("%w: pipeline timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Pipeline.MaxPending < 0 {
		return fmt.Errorf("%w: max_pending must not be negative", ErrInvalidConfig)
	}
	if c.Pipeline.MaxFrameSize < 0 {
		return fmt.Errorf("%w: max_frame_size must not be negative", ErrInvalidConfig)
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Log.Format != logging.FormatConsole && c.Log.Format != logging.FormatJSON {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// TransportConfig converts the pipeline settings into a transport.Config.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		Timeout:       time.Duration(c.Pipeline.TimeoutMs) * time.Millisecond,
		MaxPending:    c.Pipeline.MaxPending,
		SweepInterval: time.Duration(c.Pipeline.SweepIntervalMs) * time.Millisecond,
		MaxFrameSize:  c.Pipeline.MaxFrameSize,
	}
}

// DialOptions converts the file settings into transport.DialOptions.
func (c Config) DialOptions() transport.DialOptions {
	return transport.DialOptions{
		Network:      c.Network,
		Addr:         c.Addr,
		DialTimeout:  time.Duration(c.DialTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(c.WriteTimeoutMs) * time.Millisecond,
		UserTimeout:  time.Duration(c.UserTimeoutMs) * time.Millisecond,
	}
}

// LogOptions converts the file settings into logging.Options.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:   c.Log.Level,
		Format:  c.Log.Format,
		NoColor: c.Log.NoColor,
	}
}
