// Package config loads the process-level configuration of the agent core:
// where identity, secret, and data files live, and how to reach the model
// gateway and supervisor. Per-identity YAML settings are a separate
// concern (internal/identity); this is the ambient layer every process
// (agentd, supervisord) loads before anything else.
package config

import (
	"os"
	"strconv"
)

// Config holds process-level settings read from the environment.
type Config struct {
	// ConfigDir holds identities/ and secrets/ subdirectories.
	ConfigDir string
	// DataDir holds per-identity working state (engagement DBs, etc.).
	DataDir string
	// LogDir holds per-identity log output.
	LogDir string

	GatewayAddress     string
	GatewayHealthCheck bool

	SupervisorSocketPath string

	Telemetry TelemetryConfig
}

// TelemetryConfig controls in-process tracing.
type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ConfigDir: envStr("AGENTCORE_CONFIG_DIR", "config"),
		DataDir:   envStr("AGENTCORE_DATA_DIR", "data"),
		LogDir:    envStr("AGENTCORE_LOG_DIR", "logs"),

		GatewayAddress:     envStr("AGENTCORE_GATEWAY_ADDRESS", "http://localhost:8090"),
		GatewayHealthCheck: envBool("AGENTCORE_GATEWAY_HEALTHCHECK", true),

		SupervisorSocketPath: envStr("AGENTCORE_SUPERVISOR_SOCKET", defaultSupervisorSocket()),

		Telemetry: TelemetryConfig{
			Enabled:     envBool("AGENTCORE_TELEMETRY_ENABLED", true),
			ServiceName: envStr("AGENTCORE_SERVICE_NAME", "agentcore"),
		},
	}
}

func defaultSupervisorSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/overblick-supervisor.sock"
	}
	return "/tmp/overblick-supervisor.sock"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
