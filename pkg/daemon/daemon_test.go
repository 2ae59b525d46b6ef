package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/actions"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
	"github.com/heartbeat-ops/heartbeat/pkg/ingest"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/sinks"
	"github.com/heartbeat-ops/heartbeat/pkg/streaming"
)

const testRegistry = `
version: "1"
metrics:
  latency_ms:
    drift_threshold: 1.0
  reset_count:
    critical: true
`

func testReg(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistry))
	require.NoError(t, err)
	return reg
}

func baselineOf(vals map[string]float64) map[string]contracts.Metric {
	out := map[string]contracts.Metric{}
	for name, v := range vals {
		val := v
		out[name] = contracts.Metric{Name: name, Value: &val}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type movableClock struct{ t time.Time }

func (c *movableClock) now() time.Time          { return c.t }
func (c *movableClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDaemon(t *testing.T, cfg Config, base map[string]contracts.Metric, clk *movableClock, extra ...Option) *Daemon {
	t.Helper()
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = t.TempDir()
	}
	if cfg.Streaming.Window.WindowSizeSec == 0 {
		cfg.Streaming.Window.WindowSizeSec = 60
	}
	opts := append([]Option{WithClock(clk.now), WithLogger(discardLogger())}, extra...)
	d, err := New(cfg, testReg(t), base, map[string]string{"metric_registry": "h1"}, opts...)
	require.NoError(t, err)
	return d
}

func reportDirs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "daemon_") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestCycleWritesReportDirAndCheckpoint(t *testing.T) {
	clk := &movableClock{t: time.Unix(1000, 0).UTC()}
	sinkPath := filepath.Join(t.TempDir(), "alerts.jsonl")
	cfg := Config{
		SystemID: "flight-a",
		Sinks:    []sinks.Spec{{Type: "file", Path: sinkPath}},
	}
	d := newTestDaemon(t, cfg, baselineOf(map[string]float64{"latency_ms": 10}), clk)

	d.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 14})
	require.NoError(t, d.RunCycle(context.Background()))

	dirs := reportDirs(t, d.cfg.ReportsDir)
	require.Len(t, dirs, 1)
	assert.Equal(t, "daemon_19700101T001640Z_1", dirs[0])

	for _, name := range []string{"drift_report.json", "drift_report.html", "decision_record.json", "artifact_manifest.json"} {
		_, err := os.Stat(filepath.Join(d.cfg.ReportsDir, dirs[0], name))
		assert.NoError(t, err, name)
	}

	cp, err := ReadCheckpoint(d.cfg.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Cycle)
	assert.Equal(t, string(contracts.StatusDrift), cp.LastStatus)
	assert.NotEmpty(t, cp.LastDecisionID)

	// The alert sink got one decision snapshot envelope.
	data, err := os.ReadFile(sinkPath)
	require.NoError(t, err)
	var event contracts.HBEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &event))
	assert.Equal(t, contracts.HBDecisionSnapshot, event.Type)
	assert.Equal(t, "flight-a", event.SystemID)
	assert.Equal(t, contracts.SeverityWarn, event.Severity)
}

func TestCheckpointHistoryRotates(t *testing.T) {
	clk := &movableClock{t: time.Unix(2000, 0).UTC()}
	d := newTestDaemon(t, Config{CheckpointHistory: 2},
		baselineOf(map[string]float64{"latency_ms": 10}), clk)

	d.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	require.NoError(t, d.RunCycle(context.Background()))
	clk.advance(time.Minute)
	require.NoError(t, d.RunCycle(context.Background()))

	cp, err := ReadCheckpoint(d.cfg.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Cycle)

	prev, err := ReadCheckpoint(d.cfg.CheckpointPath + ".1")
	require.NoError(t, err)
	assert.Equal(t, 1, prev.Cycle)
}

func TestBreakerSkipsAndRecovers(t *testing.T) {
	clk := &movableClock{t: time.Unix(3000, 0).UTC()}
	d := newTestDaemon(t, Config{
		Breaker: BreakerConfig{FailureThreshold: 1, WindowSec: 60, OpenSec: 30},
	}, baselineOf(map[string]float64{"latency_ms": 10}), clk)

	d.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	require.NoError(t, d.RunCycle(context.Background()))
	require.Len(t, reportDirs(t, d.cfg.ReportsDir), 1)

	// One failure opens the breaker; the next cycle is skipped.
	d.Breaker().Failure()
	require.NoError(t, d.RunCycle(context.Background()))
	assert.Len(t, reportDirs(t, d.cfg.ReportsDir), 1)

	// After the open period a half-open probe runs and succeeds.
	clk.advance(31 * time.Second)
	require.NoError(t, d.RunCycle(context.Background()))
	assert.Len(t, reportDirs(t, d.cfg.ReportsDir), 2)
}

func TestEvidencePackOnFail(t *testing.T) {
	clk := &movableClock{t: time.Unix(4000, 0).UTC()}
	d := newTestDaemon(t, Config{EvidenceOnFail: true},
		baselineOf(map[string]float64{"reset_count": 0}), clk)

	d.Ingest(contracts.Event{EventTime: 100, Metric: "reset_count", Value: 3})
	require.NoError(t, d.RunCycle(context.Background()))

	entries, err := os.ReadDir(d.cfg.ReportsDir)
	require.NoError(t, err)
	var packs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "evidence_") {
			packs = append(packs, e.Name())
		}
	}
	require.Len(t, packs, 1)
	_, err = os.Stat(filepath.Join(d.cfg.ReportsDir, packs[0], "manifest.json"))
	assert.NoError(t, err)
}

func TestPruneKeepsNewestReportDir(t *testing.T) {
	clk := &movableClock{t: time.Unix(5000, 0).UTC()}
	d := newTestDaemon(t, Config{MaxReportsBytes: 1},
		baselineOf(map[string]float64{"latency_ms": 10}), clk)

	d.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	require.NoError(t, d.RunCycle(context.Background()))
	clk.advance(time.Minute)
	require.NoError(t, d.RunCycle(context.Background()))

	dirs := reportDirs(t, d.cfg.ReportsDir)
	require.Len(t, dirs, 1)
	assert.True(t, strings.HasSuffix(dirs[0], "_2"), dirs[0])
}

type memLedger struct {
	entries []contracts.ActionLedgerEntry
	byKey   map[string]contracts.ActionLedgerEntry
}

func (l *memLedger) ActionLedgerInsert(_ context.Context, e contracts.ActionLedgerEntry) error {
	l.entries = append(l.entries, e)
	if e.IdempotencyKey != "" {
		if l.byKey == nil {
			l.byKey = map[string]contracts.ActionLedgerEntry{}
		}
		l.byKey[e.IdempotencyKey] = e
	}
	return nil
}

func (l *memLedger) ActionLedgerByIdempotency(_ context.Context, key string) (*contracts.ActionLedgerEntry, error) {
	if e, ok := l.byKey[key]; ok {
		return &e, nil
	}
	return nil, nil
}

func testActionEngine(t *testing.T, mode string) *actions.Engine {
	t.Helper()
	eng, err := actions.New(actions.Policy{
		Version:        "1.0.0",
		MaxAllowedTier: 3,
		HBMode:         mode,
		Rules: []actions.Rule{{
			Status: []string{string(contracts.StatusFail)},
			Actions: []actions.ActionSpec{
				{Type: contracts.ActionNotify},
				{Type: contracts.ActionShutdown},
			},
		}},
	}, actions.WithLogger(discardLogger()))
	require.NoError(t, err)
	return eng
}

func TestActionEngineLedgersOnFail(t *testing.T) {
	clk := &movableClock{t: time.Unix(7000, 0).UTC()}
	ledger := &memLedger{}
	sinkPath := filepath.Join(t.TempDir(), "alerts.jsonl")
	cfg := Config{
		SystemID: "flight-a",
		Sinks:    []sinks.Spec{{Type: "file", Path: sinkPath}},
	}
	d := newTestDaemon(t, cfg, baselineOf(map[string]float64{"reset_count": 0}), clk,
		WithActionEngine(testActionEngine(t, "safe"), ledger))

	d.Ingest(contracts.Event{EventTime: 100, Metric: "reset_count", Value: 3})
	require.NoError(t, d.RunCycle(context.Background()))

	// Safe mode lets the notify through and blocks the shutdown.
	require.Len(t, ledger.entries, 2)
	assert.Equal(t, contracts.ActionNotify, ledger.entries[0].ActionType)
	assert.Equal(t, contracts.LedgerPending, ledger.entries[0].Status)
	assert.Equal(t, contracts.ActionShutdown, ledger.entries[1].ActionType)
	assert.Equal(t, contracts.LedgerBlocked, ledger.entries[1].Status)
	assert.Equal(t, "safe_mode_only_notify", ledger.entries[1].Payload["block_reason"])

	dirs := reportDirs(t, d.cfg.ReportsDir)
	require.Len(t, dirs, 1)
	rec, err := evidence.ReadRecord(filepath.Join(d.cfg.ReportsDir, dirs[0], "decision_record.json"))
	require.NoError(t, err)
	assert.Equal(t, "notify", rec.ActionRequested)
	assert.True(t, rec.ActionAllowed)
	assert.Equal(t, "1.0.0", rec.PolicyVersion)

	// The pending action was announced on the sinks before the snapshot.
	data, err := os.ReadFile(sinkPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var event contracts.HBEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, contracts.HBActionRequest, event.Type)
	assert.Equal(t, "notify", event.Payload["action_type"])
}

func TestActionEngineDryRun(t *testing.T) {
	clk := &movableClock{t: time.Unix(8000, 0).UTC()}
	ledger := &memLedger{}
	d := newTestDaemon(t, Config{DryRunActions: true},
		baselineOf(map[string]float64{"reset_count": 0}), clk,
		WithActionEngine(testActionEngine(t, "normal"), ledger))

	d.Ingest(contracts.Event{EventTime: 100, Metric: "reset_count", Value: 3})
	require.NoError(t, d.RunCycle(context.Background()))

	require.Len(t, ledger.entries, 2)
	for _, e := range ledger.entries {
		assert.Equal(t, contracts.LedgerDryRun, e.Status)
		assert.True(t, e.DryRun)
	}
}

func TestActionEngineSkipsPassCycles(t *testing.T) {
	clk := &movableClock{t: time.Unix(9000, 0).UTC()}
	ledger := &memLedger{}
	d := newTestDaemon(t, Config{},
		baselineOf(map[string]float64{"latency_ms": 10}), clk,
		WithActionEngine(testActionEngine(t, "normal"), ledger))

	d.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	require.NoError(t, d.RunCycle(context.Background()))
	assert.Empty(t, ledger.entries)

	dirs := reportDirs(t, d.cfg.ReportsDir)
	require.Len(t, dirs, 1)
	rec, err := evidence.ReadRecord(filepath.Join(d.cfg.ReportsDir, dirs[0], "decision_record.json"))
	require.NoError(t, err)
	assert.Empty(t, rec.ActionRequested)
	assert.False(t, rec.ActionAllowed)
}

func TestRunReplaysFileSource(t *testing.T) {
	clk := &movableClock{t: time.Unix(6000, 0).UTC()}
	eventsPath := filepath.Join(t.TempDir(), "events.jsonl")
	lines := []string{
		`{"event_time": 100, "metric": "latency_ms", "value": 10}`,
		`{"event_time": 110, "metric": "latency_ms", "value": 12}`,
	}
	require.NoError(t, os.WriteFile(eventsPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	cfg := Config{
		IntervalSec: 3600, // replay finishes long before the first tick
		Source:      ingest.Spec{Type: "file", Path: eventsPath},
		Streaming:   streaming.Config{Window: streaming.WindowSpec{WindowSizeSec: 60}},
	}
	d := newTestDaemon(t, cfg, baselineOf(map[string]float64{"latency_ms": 11}), clk)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, ingest.DefaultValidator()))

	// The end-of-source cycle evaluated the replayed window.
	require.Len(t, reportDirs(t, d.cfg.ReportsDir), 1)
	cp, err := ReadCheckpoint(d.cfg.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Cycle)
}
