package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_ALLOW_FROM", "42, 43")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.Bridge.ReconnectDelay)
	require.Equal(t, 5*time.Minute, cfg.Bridge.ReconnectMaxDelay)
	require.Equal(t, 5, cfg.Bridge.TransientBudget)
	require.Equal(t, time.Hour, cfg.Bridge.TransientWindow)
	require.Equal(t, "127.0.0.1:8080", cfg.App.Addr())
	require.Len(t, cfg.Telegram.AllowFrom, 2)
}

func TestValidateRejectsBadWatchdogDelays(t *testing.T) {
	t.Setenv("WATCHDOG_INITIAL_DELAY", "1m")
	t.Setenv("WATCHDOG_MAX_DELAY", "10s")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "WATCHDOG_MAX_DELAY")
}

func TestValidateRejectsReconnectCapBelowDelay(t *testing.T) {
	t.Setenv("BRIDGE_RECONNECT_DELAY", "1m")
	t.Setenv("BRIDGE_RECONNECT_MAX_DELAY", "30s")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "BRIDGE_RECONNECT_MAX_DELAY")
}
