package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const normYAML = `
metrics:
  latency_ms:
    aliases: ["Latency (ms)"]
    unit: ms
    unit_map:
      s: 1000
    drift_threshold: 1.0
  count:
    drift_threshold: 1.0
`

func TestNormalizeAliasesAndUnits(t *testing.T) {
	reg := regFromYAML(t, normYAML)

	out, warnings := NormalizeMetrics(map[string]RawMetric{
		"Latency (ms)": {Value: 1.5, Unit: "s"},
		"count":        {Value: "42"},
	}, reg)

	require.Empty(t, warnings)
	require.Len(t, out, 2)

	lat := out["latency_ms"]
	require.NotNil(t, lat.Value)
	assert.Equal(t, 1500.0, *lat.Value)
	assert.Equal(t, "ms", lat.Unit)

	cnt := out["count"]
	require.NotNil(t, cnt.Value)
	assert.Equal(t, 42.0, *cnt.Value)
}

func TestNormalizeKeepsUnmappedUnit(t *testing.T) {
	// When no unit_map entry matches, the original unit is preserved even
	// though the config defines a canonical unit. Stored tags rely on this.
	reg := regFromYAML(t, normYAML)
	out, _ := NormalizeMetrics(map[string]RawMetric{
		"latency_ms": {Value: 7.0, Unit: "furlongs"},
	}, reg)
	assert.Equal(t, "furlongs", out["latency_ms"].Unit)
	assert.Equal(t, 7.0, *out["latency_ms"].Value)
}

func TestNormalizeUnknownMetricDropped(t *testing.T) {
	reg := regFromYAML(t, normYAML)
	out, warnings := NormalizeMetrics(map[string]RawMetric{
		"mystery": {Value: 1.0},
	}, reg)
	assert.Empty(t, out)
	require.Len(t, warnings, 1)
	assert.Equal(t, "unknown metric: mystery", warnings[0])
}

func TestNormalizeValueCoercion(t *testing.T) {
	reg := regFromYAML(t, normYAML)

	out, warnings := NormalizeMetrics(map[string]RawMetric{
		"count": {Value: "  3.5  "},
	}, reg)
	require.Empty(t, warnings)
	assert.Equal(t, 3.5, *out["count"].Value)

	out, warnings = NormalizeMetrics(map[string]RawMetric{
		"count": {Value: ""},
	}, reg)
	assert.Nil(t, out["count"].Value)
	assert.Empty(t, warnings)

	_, warnings = NormalizeMetrics(map[string]RawMetric{
		"count": {Value: "abc"},
	}, reg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "non-numeric")
}

func TestNormalizeWarningsSortedDeduped(t *testing.T) {
	reg := regFromYAML(t, normYAML)
	_, warnings := NormalizeMetrics(map[string]RawMetric{
		"zzz": {Value: 1.0},
		"aaa": {Value: 1.0},
	}, reg)
	require.Equal(t, []string{"unknown metric: aaa", "unknown metric: zzz"}, warnings)
}
