package registry

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const sampleYAML = `
version: "1"
metrics:
  latency_ms:
    aliases: ["Latency (ms)", "latency-ms"]
    unit: ms
    unit_map:
      s: 1000
      us: 0.001
    drift_threshold: 5.0
    drift_percent: 10.0
    min_effect: 0.5
  reset_count:
    critical: true
  temp_c:
    invariant_min: -40
    invariant_max: 125
    distribution_drift:
      ks_threshold: 0.3
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndResolveAliases(t *testing.T) {
	reg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)
	require.Len(t, reg.Metrics, 3)

	for _, raw := range []string{"latency_ms", "Latency (ms)", "LATENCY-MS", "latencyms"} {
		name, ok := reg.ResolveAlias(raw)
		require.True(t, ok, "alias %q", raw)
		assert.Equal(t, "latency_ms", name)
	}

	_, ok := reg.ResolveAlias("unknown_metric")
	assert.False(t, ok)
}

func TestNormalizeAliasIdempotent(t *testing.T) {
	for _, raw := range []string{"Latency (ms)", "A_B-C.9", "", "ALL CAPS"} {
		once := NormalizeAlias(raw)
		assert.Equal(t, once, NormalizeAlias(once))
	}
}

func TestUnitMapNormalized(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg := reg.Metrics["latency_ms"]
	assert.Equal(t, 1000.0, cfg.UnitMap["s"])
	assert.Equal(t, 0.001, cfg.UnitMap["us"])
}

func TestUnknownKeysWarn(t *testing.T) {
	reg, err := Parse([]byte(`
metrics:
  m1:
    drift_threshold: 1.0
    bogus_key: true
`))
	require.NoError(t, err)
	require.Len(t, reg.Warnings, 1)
	assert.Contains(t, reg.Warnings[0], "bogus_key")
}

func TestEmptyConfigWarns(t *testing.T) {
	reg, err := Parse([]byte("metrics:\n  m1: {}\n"))
	require.NoError(t, err)
	require.NotEmpty(t, reg.Warnings)
	assert.Contains(t, reg.Warnings[0], "no thresholds")
}

func TestInvalidThresholdTypeIsConfigError(t *testing.T) {
	_, err := Parse([]byte("metrics:\n  m1:\n    drift_threshold: not_a_number\n"))
	require.Error(t, err)
	assert.Equal(t, contracts.KindConfig, contracts.KindOf(err))
}

func TestMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, contracts.KindConfig, contracts.KindOf(err))
}

func TestCompilePlanStableOrder(t *testing.T) {
	reg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	plan := CompilePlan(reg)

	require.Equal(t, []string{"latency_ms", "reset_count", "temp_c"}, plan.Names)

	i, ok := plan.Index("latency_ms")
	require.True(t, ok)
	assert.Equal(t, 5.0, plan.DriftThresholds[i])
	assert.Equal(t, 10.0, plan.DriftPercents[i])
	assert.Equal(t, 0.5, plan.MinEffects[i])
	assert.True(t, math.IsNaN(plan.FailThresholds[i]))

	j, _ := plan.Index("reset_count")
	assert.True(t, plan.Critical[j])

	k, _ := plan.Index("temp_c")
	assert.Equal(t, 0.3, plan.KSThresholds[k])
	assert.Equal(t, -40.0, plan.InvariantMin[k])
	assert.Equal(t, contracts.DefaultDriftPersistence, plan.Persistence[k])
}

func TestHashFileStable(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
