package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erikonbike/lightplay/internal/digest"
	"github.com/erikonbike/lightplay/internal/logging"
)

func TestParseDefaults(t *testing.T) {
	f := NewFlags("lightplay")
	cfg, err := f.Parse([]string{"10.0.0.5", "song.m4a"})
	require.NoError(t, err)

	require.Equal(t, "10.0.0.5", cfg.Host)
	require.Equal(t, "song.m4a", cfg.Filename)
	require.Equal(t, "5000", cfg.Port)
	require.Equal(t, digest.DefaultPassword, cfg.Password)
	require.Equal(t, logging.LevelWarning, cfg.LogLevel)
	require.Equal(t, time.Duration(0), cfg.StartOffset)
	require.Equal(t, 3, cfg.ConnectRetries)
}

func TestParseAllFlags(t *testing.T) {
	f := NewFlags("lightplay")
	cfg, err := f.Parse([]string{
		"-c", "secret",
		"-p", "6000",
		"-v", "d",
		"-l", "/tmp/lightplay.log",
		"-o", "2.5",
		"--connect-retries", "5",
		"10.0.0.5", "song.m4a",
	})
	require.NoError(t, err)

	require.Equal(t, "secret", cfg.Password)
	require.Equal(t, "6000", cfg.Port)
	require.Equal(t, logging.LevelDebug, cfg.LogLevel)
	require.Equal(t, "/tmp/lightplay.log", cfg.LogFile)
	require.Equal(t, 2500*time.Millisecond, cfg.StartOffset)
	require.Equal(t, 5, cfg.ConnectRetries)
}

func TestParseMissingPositionalArgsIsConfigError(t *testing.T) {
	f := NewFlags("lightplay")
	_, err := f.Parse([]string{"10.0.0.5"})
	require.ErrorIs(t, err, ErrConfig)
}

func TestParseBadVerbosityIsConfigError(t *testing.T) {
	f := NewFlags("lightplay")
	_, err := f.Parse([]string{"-v", "x", "10.0.0.5", "song.m4a"})
	require.ErrorIs(t, err, ErrConfig)
}

func TestParseNegativeOffsetIsConfigError(t *testing.T) {
	f := NewFlags("lightplay")
	_, err := f.Parse([]string{"--offset=-1", "10.0.0.5", "song.m4a"})
	require.ErrorIs(t, err, ErrConfig)
}

func TestParseZeroConnectRetriesIsConfigError(t *testing.T) {
	f := NewFlags("lightplay")
	_, err := f.Parse([]string{"--connect-retries=0", "10.0.0.5", "song.m4a"})
	require.ErrorIs(t, err, ErrConfig)
}
