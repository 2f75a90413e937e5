package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.EqualValues(t, 1280, cfg.Width)
	assert.EqualValues(t, 720, cfg.Height)
	assert.Equal(t, 1337, cfg.Port)
	assert.Greater(t, cfg.Threads, 0)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]string{"--port", "4000", "--threads", "3", "--log-level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 3, cfg.Threads)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseShorthandFlags(t *testing.T) {
	cfg, err := Parse([]string{"-p", "5000", "-n", "2", "-c", "10"})
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 2, cfg.Threads)
	assert.Equal(t, 10, cfg.ConnectionsPerIP)
}

func TestParseRejectsInvalidLogLevel(t *testing.T) {
	_, err := Parse([]string{"--log-level", "loud"})
	assert.Error(t, err)
}

func TestParseRejectsZeroWidth(t *testing.T) {
	_, err := Parse([]string{"--width", "0"})
	assert.Error(t, err)
}

func TestParseIPv4MaskRejectsIPv6Value(t *testing.T) {
	_, err := Parse([]string{"--ipv4-mask", "::1"})
	assert.Error(t, err)
}

func TestParseIPv6MaskDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0}, cfg.IPv6Mask)
}

func TestEnvFallbackOverridesDefault(t *testing.T) {
	t.Setenv("WELLENBRECHER_PORT", "9999")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
}

func TestFlagOverridesEnvFallback(t *testing.T) {
	t.Setenv("WELLENBRECHER_PORT", "9999")
	cfg, err := Parse([]string{"--port", "1111"})
	require.NoError(t, err)
	assert.Equal(t, 1111, cfg.Port)
}
