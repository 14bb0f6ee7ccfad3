package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnvDefaults_FillsUnsetFlags(t *testing.T) {
	t.Setenv("ORDERDECK_FEED_URL", "ws://feed.example.com/ws")
	t.Setenv("ORDERDECK_GATEWAY_URL", "http://gw.example.com")
	t.Setenv("ORDERDECK_POLL_INTERVAL", "30s")
	t.Setenv("ORDERDECK_LOG_JSON", "true")
	t.Setenv("ORDERDECK_LOG_GROUPS", "reconcile, feed")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "ws://feed.example.com/ws", cfg.FeedURL)
	require.Equal(t, "http://gw.example.com", cfg.GatewayURL)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.True(t, cfg.LogFormatJSON)
	require.Equal(t, []string{"reconcile", "feed"}, cfg.LogGroups)
}

func TestApplyEnvDefaults_FlagWinsOverEnv(t *testing.T) {
	t.Setenv("ORDERDECK_GATEWAY_URL", "http://env.example.com")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--gateway-url", "http://flag.example.com"}))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "http://flag.example.com", cfg.GatewayURL)
}

func TestApplyEnvDefaults_TokenFileOverridesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("file-token\n"), 0o600))

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--api-token", "flag-token", "--api-token-file", path}))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "file-token", cfg.APIToken)
}

func TestApplyEnvDefaults_MissingTokenFileFails(t *testing.T) {
	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--api-token-file", "/does/not/exist"}))
	require.Error(t, ApplyEnvDefaults(fs, &cfg))
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	err := ValidateConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "feed-url")
	require.Contains(t, err.Error(), "gateway-url")

	cfg.FeedURL = "ws://feed.example.com/ws"
	cfg.GatewayURL = "http://gw.example.com"
	require.NoError(t, ValidateConfig(cfg))

	cfg.PollInterval = 0
	require.Error(t, ValidateConfig(cfg))
}

func TestGetLogHandler_BadLevelFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	handler, err := GetLogHandler(cfg)
	require.NoError(t, err)
	require.NotNil(t, handler)
}
