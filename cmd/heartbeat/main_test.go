package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistryYAML = `
version: "1"
metrics:
  latency_ms:
    drift_threshold: 1.0
  throughput:
    drift_threshold: 10.0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"heartbeat"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command")
}

func TestMissingRegistryIsConfigError(t *testing.T) {
	t.Setenv("HB_METRIC_REGISTRY", "")
	dir := t.TempDir()
	metrics := writeFile(t, dir, "metrics.json", `{"latency_ms": 10}`)

	code, _, stderr := runCLI(t, "ingest",
		"--run-id", "run-1", "--metrics", metrics,
		"--db", filepath.Join(dir, "hb.db"))
	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "metric registry not set")
}

func TestAnalyzeUnknownRunIsRegistryError(t *testing.T) {
	dir := t.TempDir()
	reg := writeFile(t, dir, "registry.yaml", testRegistryYAML)

	code, _, _ := runCLI(t, "analyze",
		"--run-id", "ghost", "--registry", reg,
		"--db", filepath.Join(dir, "hb.db"))
	assert.Equal(t, 4, code)
}

func TestIngestAnalyzeVerifyFlow(t *testing.T) {
	t.Setenv("HB_METRIC_REGISTRY", "")
	t.Setenv("HB_BASELINE_POLICY", "")
	dir := t.TempDir()
	reg := writeFile(t, dir, "registry.yaml", testRegistryYAML)
	db := filepath.Join(dir, "hb.db")

	baseMetrics := writeFile(t, dir, "base.json",
		`{"latency_ms": 10, "throughput": {"value": 500, "unit": "rps"}}`)
	code, _, stderr := runCLI(t, "ingest",
		"--run-id", "run-base", "--program", "p", "--subsystem", "s", "--test", "t",
		"--metrics", baseMetrics, "--registry", reg, "--db", db)
	require.Equal(t, 0, code, stderr)

	curMetrics := writeFile(t, dir, "cur.json",
		`{"latency_ms": 14, "throughput": 500}`)
	reportDir := filepath.Join(dir, "report")
	code, stdout, stderr := runCLI(t, "run",
		"--run-id", "run-cur", "--program", "p", "--subsystem", "s", "--test", "t",
		"--metrics", curMetrics, "--registry", reg, "--db", db,
		"--baseline-run", "run-base", "--out", reportDir)
	require.Equal(t, 0, code, stderr)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, "PASS_WITH_DRIFT", summary["status"])
	assert.Equal(t, "run-base", summary["baseline_run_id"])

	for _, name := range []string{
		"drift_report.json", "drift_report.html", "metrics_normalized.csv",
		"run_meta_normalized.json", "baseline_snapshot.json",
		"decision_record.json", "audit_log.jsonl", "artifact_manifest.json",
	} {
		_, err := os.Stat(filepath.Join(reportDir, name))
		assert.NoError(t, err, name)
	}

	// Export an evidence pack and verify the decision from it.
	code, stdout, stderr = runCLI(t, "export", "evidence-pack",
		"--case", "case-7", "--report-dir", reportDir,
		"--out", dir, "--registry", reg)
	require.Equal(t, 0, code, stderr)
	var pack map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &pack))
	packDir, _ := pack["pack"].(string)
	require.NotEmpty(t, packDir)

	code, stdout, stderr = runCLI(t, "verify-decision", "--evidence", packDir)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "deterministic replay matched")

	// Replay alone reproduces the same status.
	code, stdout, _ = runCLI(t, "replay", "--evidence", packDir)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "PASS_WITH_DRIFT")
}

func TestIngestGeneratesRunID(t *testing.T) {
	t.Setenv("HB_METRIC_REGISTRY", "")
	dir := t.TempDir()
	reg := writeFile(t, dir, "registry.yaml", testRegistryYAML)
	metrics := writeFile(t, dir, "m.json", `{"latency_ms": 10}`)

	code, stdout, stderr := runCLI(t, "ingest",
		"--metrics", metrics, "--registry", reg, "--db", filepath.Join(dir, "hb.db"))
	require.Equal(t, 0, code, stderr)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	runID, _ := out["run_id"].(string)
	assert.Len(t, runID, 36) // canonical UUID text form
}

func TestBaselineTagLifecycle(t *testing.T) {
	dir := t.TempDir()
	reg := writeFile(t, dir, "registry.yaml", testRegistryYAML)
	db := filepath.Join(dir, "hb.db")
	metrics := writeFile(t, dir, "m.json", `{"latency_ms": 10}`)

	code, _, stderr := runCLI(t, "ingest",
		"--run-id", "run-1", "--metrics", metrics, "--registry", reg, "--db", db)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := runCLI(t, "baseline", "set",
		"--tag", "golden", "--run-id", "run-1", "--registry", reg, "--db", db)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "golden")

	code, stdout, _ = runCLI(t, "baseline", "list", "--db", db)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "run-1")

	code, stdout, _ = runCLI(t, "runs", "list", "--db", db, "--json")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "run-1")
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	reg := writeFile(t, dir, "registry.yaml", testRegistryYAML)

	code, stdout, stderr := runCLI(t, "plan", "--registry", reg)
	require.Equal(t, 0, code, stderr)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, float64(2), out["metrics"])
	assert.NotEmpty(t, out["registry_hash"])
}
