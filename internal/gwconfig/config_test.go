package gwconfig

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	src := `
domain example.org
operator_notify postmaster@example.org
relay smtp 127.0.0.1:2525
`
	cfg, err := Load(strings.NewReader(src), "test.conf")
	require.NoError(t, err)

	require.Equal(t, "example.org", cfg.Domain)
	require.Equal(t, Hourly, cfg.BundleFrequency)
	require.Equal(t, int64(64*1024), cfg.BundledMaxSize)
	require.Equal(t, "smtp", cfg.RelayMode)
	require.Equal(t, []string{"127.0.0.1:2525"}, cfg.RelayArgs)
	require.False(t, cfg.DKIMSign)
	require.False(t, cfg.RequireKeyVerified)
	require.Equal(t, "postmaster@example.org", cfg.OperatorNotify)
}

func TestLoadRequiresOperatorNotify(t *testing.T) {
	src := `
domain example.org
relay smtp 127.0.0.1:2525
`
	_, err := Load(strings.NewReader(src), "test.conf")
	require.Error(t, err)
}

func TestLoadOverridesAndValidatesFrequency(t *testing.T) {
	src := `
domain example.org
operator_notify postmaster@example.org
bundle_frequency daily
bundle_message_kb 128
require_key_verified true
relay pipe /usr/sbin/sendmail
`
	cfg, err := Load(strings.NewReader(src), "test.conf")
	require.NoError(t, err)

	require.Equal(t, Daily, cfg.BundleFrequency)
	require.Equal(t, 24*time.Hour, cfg.BundleFrequency.Interval(false))
	require.Equal(t, int64(128), cfg.BundleMessageKB())
	require.True(t, cfg.RequireKeyVerified)
	require.Equal(t, "pipe", cfg.RelayMode)
}

func TestLoadRejectsUnknownFrequency(t *testing.T) {
	src := `
domain example.org
operator_notify postmaster@example.org
bundle_frequency fortnightly
relay smtp 127.0.0.1:25
`
	_, err := Load(strings.NewReader(src), "test.conf")
	require.Error(t, err)
}

func TestHourlyIntervalShortenedInTestMode(t *testing.T) {
	require.Equal(t, 10*time.Minute, Hourly.Interval(true))
	require.Equal(t, time.Hour, Hourly.Interval(false))
}
