// Package config resolves the process environment (HB_* variables) into a
// single struct consumed by the CLI and daemon.
package config

import "os"

// Config holds the environment-derived settings. None of these change the
// decision engine's output except the explicit toggles.
type Config struct {
	MetricRegistry  string // HB_METRIC_REGISTRY
	BaselinePolicy  string // HB_BASELINE_POLICY
	ActionPolicy    string // HB_ACTION_POLICY
	TelemetrySchema string // HB_TELEMETRY_SCHEMA
	RegistryDB      string // HB_REGISTRY_DB
	Version         string // HB_VERSION
	CorrelationID   string // HB_CORRELATION_ID
	LogLevel        string // HB_LOG_LEVEL

	Deterministic          bool // HB_DETERMINISTIC
	EarlyExit              bool // HB_EARLY_EXIT
	RejectPlaintextSecrets bool // HB_REJECT_PLAINTEXT_SECRETS
}

// Load reads the environment.
func Load() *Config {
	registryDB := os.Getenv("HB_REGISTRY_DB")
	if registryDB == "" {
		registryDB = "heartbeat.db"
	}

	logLevel := os.Getenv("HB_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		MetricRegistry:  os.Getenv("HB_METRIC_REGISTRY"),
		BaselinePolicy:  os.Getenv("HB_BASELINE_POLICY"),
		ActionPolicy:    os.Getenv("HB_ACTION_POLICY"),
		TelemetrySchema: os.Getenv("HB_TELEMETRY_SCHEMA"),
		RegistryDB:      registryDB,
		Version:         os.Getenv("HB_VERSION"),
		CorrelationID:   os.Getenv("HB_CORRELATION_ID"),
		LogLevel:        logLevel,

		Deterministic:          boolEnv("HB_DETERMINISTIC"),
		EarlyExit:              boolEnv("HB_EARLY_EXIT"),
		RejectPlaintextSecrets: boolEnv("HB_REJECT_PLAINTEXT_SECRETS"),
	}
}

func boolEnv(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}
