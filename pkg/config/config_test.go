package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, "heartbeat.db", cfg.RegistryDB)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.Deterministic)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HB_METRIC_REGISTRY", "/etc/hb/registry.yaml")
	t.Setenv("HB_REGISTRY_DB", "/var/lib/hb/runs.db")
	t.Setenv("HB_DETERMINISTIC", "1")
	t.Setenv("HB_REJECT_PLAINTEXT_SECRETS", "true")
	t.Setenv("HB_CORRELATION_ID", "corr-1")

	cfg := config.Load()
	assert.Equal(t, "/etc/hb/registry.yaml", cfg.MetricRegistry)
	assert.Equal(t, "/var/lib/hb/runs.db", cfg.RegistryDB)
	assert.True(t, cfg.Deterministic)
	assert.True(t, cfg.RejectPlaintextSecrets)
	assert.Equal(t, "corr-1", cfg.CorrelationID)
}
