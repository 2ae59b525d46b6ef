package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

type fakeRuns struct {
	tags map[string]*contracts.BaselineTag
	runs []contracts.Run
}

func (f *fakeRuns) GetTag(_ context.Context, tag string) (*contracts.BaselineTag, error) {
	return f.tags[tag], nil
}

func (f *fakeRuns) RunsByKey(_ context.Context, program, subsystem, testName string, limit int) ([]contracts.Run, error) {
	var out []contracts.Run
	for _, r := range f.runs {
		if r.Program == program && r.Subsystem == subsystem && r.TestName == testName {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func meta(runID string) contracts.RunMeta {
	return contracts.RunMeta{RunID: runID, Program: "flightsw", Subsystem: "adcs", TestName: "thermal_vac"}
}

func run(id, status string) contracts.Run {
	return contracts.Run{RunID: id, Program: "flightsw", Subsystem: "adcs", TestName: "thermal_vac", Status: status}
}

func TestSelectTagWins(t *testing.T) {
	src := &fakeRuns{
		tags: map[string]*contracts.BaselineTag{
			"golden": {Tag: "golden", RunID: "run-9", RegistryHash: "h1"},
		},
		runs: []contracts.Run{run("run-2", "PASS")},
	}

	sel, err := Select(context.Background(), src, meta("run-3"), Policy{Tag: "golden"}, "h1")
	require.NoError(t, err)
	assert.Equal(t, "run-9", sel.BaselineRunID)
	assert.Equal(t, "tag", sel.Reason)
	assert.Empty(t, sel.Warning)
}

func TestSelectTagRegistryMismatchWarns(t *testing.T) {
	src := &fakeRuns{tags: map[string]*contracts.BaselineTag{
		"golden": {Tag: "golden", RunID: "run-9", RegistryHash: "old"},
	}}

	sel, err := Select(context.Background(), src, meta("run-3"), Policy{Tag: "golden"}, "new")
	require.NoError(t, err)
	assert.Equal(t, "run-9", sel.BaselineRunID)
	assert.Contains(t, sel.Warning, "different metric registry")
}

func TestSelectTagNotFound(t *testing.T) {
	src := &fakeRuns{tags: map[string]*contracts.BaselineTag{}}
	sel, err := Select(context.Background(), src, meta("run-3"), Policy{Tag: "golden"}, "")
	require.NoError(t, err)
	assert.Empty(t, sel.BaselineRunID)
	assert.Equal(t, "tag_not_found", sel.Reason)
}

func TestSelectNewestPassSkipsSelf(t *testing.T) {
	src := &fakeRuns{runs: []contracts.Run{
		run("run-3", "PASS"), // the run under evaluation, newest
		run("run-2", "FAIL"),
		run("run-1", "PASS"),
	}}

	sel, err := Select(context.Background(), src, meta("run-3"), Policy{}, "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", sel.BaselineRunID)
	assert.Equal(t, "last_pass", sel.Reason)
}

func TestSelectFallbackLatest(t *testing.T) {
	src := &fakeRuns{runs: []contracts.Run{run("run-2", "FAIL"), run("run-1", "FAIL")}}

	sel, err := Select(context.Background(), src, meta("run-3"), Policy{}, "")
	require.NoError(t, err)
	assert.Equal(t, "no_pass", sel.Reason)

	sel, err = Select(context.Background(), src, meta("run-3"), Policy{Fallback: "latest"}, "")
	require.NoError(t, err)
	assert.Equal(t, "run-2", sel.BaselineRunID)
	assert.Equal(t, "fallback_latest", sel.Reason)
}

func TestSelectNoRuns(t *testing.T) {
	sel, err := Select(context.Background(), &fakeRuns{}, meta("run-3"), Policy{}, "")
	require.NoError(t, err)
	assert.Equal(t, "no_runs", sel.Reason)
}

func TestEvaluateQuality(t *testing.T) {
	policy := DefaultPolicy().Quality

	good := EvaluateQuality(QualityInputs{SampleSize: 60, TimeSpanSec: 1200, EnvScore: 1}, policy)
	assert.True(t, good.Passed)
	assert.InDelta(t, 1.0, good.Confidence, 1e-9)

	short := EvaluateQuality(QualityInputs{SampleSize: 15, TimeSpanSec: 1200, EnvScore: 1}, policy)
	assert.False(t, short.Passed)
	// Half the sample minimum contributes half of the sample weight.
	assert.InDelta(t, 0.3*0.5+0.3+0.2+0.2, short.Confidence, 1e-9)

	alerted := EvaluateQuality(QualityInputs{SampleSize: 60, TimeSpanSec: 1200, AlertCount: 2, EnvScore: 1}, policy)
	assert.False(t, alerted.Passed)
	assert.Less(t, alerted.Confidence, good.Confidence)
}

func TestEvaluateDecay(t *testing.T) {
	policy := DecayPolicy{MaxAgeSec: 3600, MinMetrics: 2, MaxDriftFraction: 0.5}
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	metricMap := func(vals map[string]float64) map[string]contracts.Metric {
		out := map[string]contracts.Metric{}
		for k, v := range vals {
			val := v
			out[k] = contracts.Metric{Name: k, Value: &val}
		}
		return out
	}
	base := metricMap(map[string]float64{"a": 10, "b": 20, "c": 30})

	fresh := EvaluateDecay(now, now.Add(-time.Minute), metricMap(map[string]float64{"a": 11, "b": 21, "c": 31}), base, policy)
	assert.False(t, fresh.Stale)
	assert.Equal(t, 3, fresh.CommonMetrics)

	old := EvaluateDecay(now, now.Add(-2*time.Hour), metricMap(map[string]float64{"a": 10, "b": 20, "c": 30}), base, policy)
	assert.True(t, old.Stale)

	sparse := EvaluateDecay(now, now.Add(-time.Minute), metricMap(map[string]float64{"a": 10}), base, policy)
	assert.True(t, sparse.Stale)

	// Two of three shared metrics more than 50% away from baseline.
	moved := EvaluateDecay(now, now.Add(-time.Minute), metricMap(map[string]float64{"a": 30, "b": 60, "c": 31}), base, policy)
	assert.True(t, moved.Stale)
	assert.InDelta(t, 2.0/3.0, moved.DriftFraction, 1e-9)
}
