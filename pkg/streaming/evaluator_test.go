package streaming

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
)

const testRegistry = `
version: "1"
metrics:
  latency_ms:
    drift_threshold: 1.0
  throughput:
    drift_threshold: 10.0
`

func testReg(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Parse([]byte(testRegistry))
	require.NoError(t, err)
	return reg
}

func fixedClock(sec float64) func() time.Time {
	return func() time.Time { return time.Unix(0, int64(sec*1e9)).UTC() }
}

func f(v float64) *float64 { return &v }

func baselineOf(vals map[string]float64) map[string]contracts.Metric {
	out := map[string]contracts.Metric{}
	for name, v := range vals {
		val := v
		out[name] = contracts.Metric{Name: name, Value: &val}
	}
	return out
}

func TestWindowStarts(t *testing.T) {
	tumbling := WindowSpec{WindowSizeSec: 60}
	assert.Equal(t, []float64{120}, tumbling.Starts(130))

	sliding := WindowSpec{WindowSizeSec: 60, SlideSec: 20}
	// 130 falls inside [80,140), [100,160), [120,180).
	assert.Equal(t, []float64{80, 100, 120}, sliding.Starts(130))

	aligned := WindowSpec{WindowSizeSec: 60, SlideSec: 60, AlignEpochSec: 10}
	assert.Equal(t, []float64{70}, aligned.Starts(100))
}

func TestWatermarkAndLateDrop(t *testing.T) {
	ev := New(Config{
		Window:             WindowSpec{WindowSizeSec: 60},
		AllowedLatenessSec: 30,
	}, testReg(t), WithClock(fixedClock(1000)))

	ev.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	assert.Equal(t, 70.0, ev.Watermark())

	// An event behind the watermark is discarded under the drop policy.
	ev.Ingest(contracts.Event{EventTime: 50, Metric: "latency_ms", Value: 99})
	assert.Equal(t, 1, ev.dropped)

	// Within lateness is still accepted.
	ev.Ingest(contracts.Event{EventTime: 80, Metric: "latency_ms", Value: 12})
	assert.Equal(t, 1, ev.dropped)
}

func TestLateSideOutput(t *testing.T) {
	ev := New(Config{
		Window:     WindowSpec{WindowSizeSec: 60},
		LatePolicy: LateSideOutput,
	}, testReg(t), WithClock(fixedClock(1000)))

	ev.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 10})
	ev.Ingest(contracts.Event{EventTime: 10, Metric: "latency_ms", Value: 99})

	select {
	case late := <-ev.SideOutput():
		assert.Equal(t, 99.0, late.Value)
	default:
		t.Fatal("expected a side-output event")
	}
}

func TestLateBufferFlushesOnEmit(t *testing.T) {
	ev := New(Config{
		Window:     WindowSpec{WindowSizeSec: 100},
		LatePolicy: LateBuffer,
	}, testReg(t), WithClock(fixedClock(1000)))

	ev.Ingest(contracts.Event{EventTime: 150, Metric: "latency_ms", Value: 12})
	ev.Ingest(contracts.Event{EventTime: 110, Metric: "latency_ms", Value: 14}) // late, buffered
	require.Len(t, ev.buffered, 1)

	snap, ok := ev.EmitDecision(baselineOf(map[string]float64{"latency_ms": 10}), nil)
	require.True(t, ok)
	assert.Empty(t, ev.buffered)
	// Buffered event joined the bucket before aggregation: mean(12,14)=13.
	require.Len(t, snap.Decision.DriftMetrics, 1)
	assert.Equal(t, 13.0, snap.Decision.DriftMetrics[0].Current)
}

func TestEmitPicksNewestClosedBucket(t *testing.T) {
	ev := New(Config{
		Window:             WindowSpec{WindowSizeSec: 60},
		AllowedLatenessSec: 10,
	}, testReg(t), WithClock(fixedClock(1000)))

	// Bucket [60,120) gets two values; bucket [300,360) stays open
	// because the watermark (350-10=340) has not passed its end.
	ev.Ingest(contracts.Event{EventTime: 70, Metric: "latency_ms", Value: 10})
	ev.Ingest(contracts.Event{EventTime: 90, Metric: "latency_ms", Value: 20})
	ev.Ingest(contracts.Event{EventTime: 350, Metric: "latency_ms", Value: 99})

	snap, ok := ev.EmitDecision(baselineOf(map[string]float64{"latency_ms": 15}), map[string]string{"registry": "h"})
	require.True(t, ok)
	assert.Equal(t, 60.0, snap.InputSlice.WindowStart)
	assert.Equal(t, 120.0, snap.InputSlice.WindowEnd)
	assert.Equal(t, 340.0, snap.InputSlice.Watermark)
	assert.Equal(t, 1, snap.InputSlice.MetricCount)
	// mean(10,20)=15 equals baseline: PASS.
	assert.Equal(t, contracts.StatusPass, snap.Decision.Status)
}

func TestEmitFallsBackToPartialBucket(t *testing.T) {
	ev := New(Config{Window: WindowSpec{WindowSizeSec: 60}}, testReg(t), WithClock(fixedClock(1000)))

	ev.Ingest(contracts.Event{EventTime: 100, Metric: "latency_ms", Value: 12})
	snap, ok := ev.EmitDecision(baselineOf(map[string]float64{"latency_ms": 10}), nil)
	require.True(t, ok)
	assert.Equal(t, contracts.StatusDrift, snap.Decision.Status)

	empty := New(Config{Window: WindowSpec{WindowSizeSec: 60}}, testReg(t))
	_, ok = empty.EmitDecision(nil, nil)
	assert.False(t, ok)
}

func TestMaxBucketsEvictsOldest(t *testing.T) {
	ev := New(Config{
		Window:     WindowSpec{WindowSizeSec: 60},
		MaxBuckets: 2,
	}, testReg(t), WithClock(fixedClock(1000)))

	for _, et := range []float64{10, 70, 130, 190} {
		ev.Ingest(contracts.Event{EventTime: et, Metric: "latency_ms", Value: et})
	}
	require.Len(t, ev.buckets, 2)
	assert.Equal(t, []float64{120, 180}, ev.sortedStarts())
}

func TestDeterministicSnapshotsAreIdentical(t *testing.T) {
	events := []contracts.Event{
		{EventTime: 70, Metric: "LatencyMS", Value: 10},
		{EventTime: 75, Metric: "latency_ms", Value: 14},
		{EventTime: 80, Metric: "throughput", Value: 500},
	}
	baseline := baselineOf(map[string]float64{"latency_ms": 10, "throughput": 500})

	run := func() []byte {
		ev := New(Config{
			Window:        WindowSpec{WindowSizeSec: 60},
			Deterministic: true,
		}, testReg(t), WithClock(fixedClock(1000)))
		for _, e := range events {
			ev.Ingest(e)
		}
		snap, ok := ev.EmitDecision(baseline, map[string]string{"registry": "h1"})
		require.True(t, ok)
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		return data
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(run()))
	}
}

func TestLatencyRecorderPercentiles(t *testing.T) {
	r := NewLatencyRecorder(4)
	p50, p95 := r.Percentiles()
	assert.Zero(t, p50)
	assert.Zero(t, p95)

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4} {
		r.Record(v)
	}
	p50, p95 = r.Percentiles()
	assert.InDelta(t, 0.25, p50, 1e-9)
	assert.InDelta(t, 0.385, p95, 1e-9)

	// Ring wraps: oldest observation replaced.
	r.Record(1.0)
	assert.Equal(t, 4, r.Count())
}
