package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}

func TestNew_JSONOutput(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")

	var buf bytes.Buffer
	l := New(ProfileRuntime, Options{Format: FormatJSON, Level: "warn", Output: &buf})

	l.Info().Msg("dropped")
	l.Warn().Str("pipeline", "p1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "p1", entry["pipeline"])
}

func TestNew_EnvOverridesOptions(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")

	var buf bytes.Buffer
	l := New(ProfileTest, Options{Level: "debug", Format: FormatConsole, Output: &buf})

	l.Warn().Msg("below threshold")
	assert.Zero(t, buf.Len())

	l.Error().Msg("shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
