// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "MINDFRY_LOG_LEVEL"
	EnvLogFormat  = "MINDFRY_LOG_FORMAT"
	EnvLogNoColor = "MINDFRY_LOG_NOCOLOR"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options describes the logger. Zero values mean "use the profile default".
type Options struct {
	Level   string
	Format  string
	NoColor bool
	Output  io.Writer
}

var configureOnce sync.Once

// Configure installs the global logger once per process; later calls are no-ops.
// Environment variables override opts.
func Configure(profile Profile, opts Options) zerolog.Logger {
	configureOnce.Do(func() {
		log.Logger = New(profile, opts)
	})
	return log.Logger
}

// New builds a logger without touching global state.
func New(profile Profile, opts Options) zerolog.Logger {
	cfg := defaultOptions(profile)
	if opts.Level != "" {
		cfg.Level = opts.Level
	}
	if opts.Format != "" {
		cfg.Format = opts.Format
	}
	if opts.NoColor {
		cfg.NoColor = true
	}
	if opts.Output != nil {
		cfg.Output = opts.Output
	}
	applyEnvOverrides(&cfg)

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	var out io.Writer = cfg.Output
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func defaultOptions(profile Profile) Options {
	switch profile {
	case ProfileTest:
		return Options{Level: "debug", Format: FormatConsole, NoColor: true, Output: os.Stderr}
	default:
		return Options{Level: "info", Format: FormatConsole, Output: os.Stderr}
	}
}

func applyEnvOverrides(cfg *Options) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))) {
	case FormatJSON:
		cfg.Format = FormatJSON
	case FormatConsole:
		cfg.Format = FormatConsole
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
