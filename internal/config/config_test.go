package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	t.Setenv("AGENTCORE_CONFIG_DIR", "")
	t.Setenv("AGENTCORE_DATA_DIR", "")
	t.Setenv("AGENTCORE_GATEWAY_ADDRESS", "")
	t.Setenv("AGENTCORE_TELEMETRY_ENABLED", "")
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg := Load()

	require.Equal(t, "config", cfg.ConfigDir)
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, "http://localhost:8090", cfg.GatewayAddress)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "/tmp/overblick-supervisor.sock", cfg.SupervisorSocketPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTCORE_CONFIG_DIR", "/etc/agentcore")
	t.Setenv("AGENTCORE_TELEMETRY_ENABLED", "false")
	t.Setenv("AGENTCORE_SERVICE_NAME", "nyx-agent")

	cfg := Load()

	require.Equal(t, "/etc/agentcore", cfg.ConfigDir)
	require.False(t, cfg.Telemetry.Enabled)
	require.Equal(t, "nyx-agent", cfg.Telemetry.ServiceName)
}

func TestLoad_SupervisorSocketUsesXDGRuntimeDir(t *testing.T) {
	t.Setenv("AGENTCORE_SUPERVISOR_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	cfg := Load()
	require.Equal(t, "/run/user/1000/overblick-supervisor.sock", cfg.SupervisorSocketPath)
}

func TestEnvBool_InvalidValueFallsBack(t *testing.T) {
	t.Setenv("AGENTCORE_GATEWAY_HEALTHCHECK", "not-a-bool")
	cfg := Load()
	require.True(t, cfg.GatewayHealthCheck)
}

func TestEnvInt_ParsesValidValue(t *testing.T) {
	t.Setenv("SOME_TEST_INT", "42")
	require.Equal(t, 42, envInt("SOME_TEST_INT", 0))
}

func TestEnvInt_FallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SOME_TEST_INT", "not-an-int")
	require.Equal(t, 7, envInt("SOME_TEST_INT", 7))
}
