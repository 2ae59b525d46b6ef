package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMeta(runID string) contracts.RunMeta {
	return contracts.RunMeta{
		RunID:       runID,
		Program:     "flightsw",
		Subsystem:   "adcs",
		TestName:    "thermal_vac",
		Environment: "bench",
		Build:       contracts.BuildInfo{GitSHA: "abc123", BuildID: "b42"},
		StartUTC:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		EndUTC:      time.Date(2026, 1, 2, 3, 34, 5, 0, time.UTC),
	}
}

func f(v float64) *float64 { return &v }

func TestUpsertRunInsertThenUpdate(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	meta := testMeta("run-1")

	require.NoError(t, s.UpsertRun(ctx, meta, contracts.StatusPass, "", "reghash1"))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "PASS", run.Status)
	assert.Equal(t, "reghash1", run.RegistryHash)
	assert.Equal(t, "flightsw", run.Program)

	// Second upsert overwrites status and baseline only.
	meta2 := meta
	meta2.Program = "changed" // must be ignored on update
	require.NoError(t, s.UpsertRun(ctx, meta2, contracts.StatusFail, "run-0", "other"))

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "FAIL", run.Status)
	assert.Equal(t, "run-0", run.BaselineRunID)
	assert.Equal(t, "flightsw", run.Program)
	assert.Equal(t, "reghash1", run.RegistryHash)
}

func TestReplaceMetricsAtomicRewrite(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertRun(ctx, testMeta("run-1"), contracts.StatusPass, "", ""))

	require.NoError(t, s.ReplaceMetrics(ctx, "run-1", []contracts.Metric{
		{Name: "latency_ms", Value: f(12.5), Unit: "ms"},
		{Name: "reset_count", Value: f(0), Tags: map[string]any{"samples": []any{0.0, 0.0}}},
	}))

	got, err := s.FetchMetrics(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 12.5, *got["latency_ms"].Value)
	assert.Equal(t, "ms", got["latency_ms"].Unit)
	assert.Equal(t, []float64{0, 0}, got["reset_count"].Samples())

	// Rewrite replaces, never appends.
	require.NoError(t, s.ReplaceMetrics(ctx, "run-1", []contracts.Metric{
		{Name: "latency_ms", Value: f(13.0)},
	}))
	got, err = s.FetchMetrics(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 13.0, *got["latency_ms"].Value)
}

func TestReplaceMetricsNullValue(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertRun(ctx, testMeta("run-1"), contracts.StatusPass, "", ""))
	require.NoError(t, s.ReplaceMetrics(ctx, "run-1", []contracts.Metric{{Name: "m"}}))

	got, err := s.FetchMetrics(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, got["m"].Value)
}

func TestRunsByKeyNewestFirst(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		meta := testMeta(id)
		meta.StartUTC = meta.StartUTC.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.UpsertRun(ctx, meta, contracts.StatusPass, "", ""))
	}

	runs, err := s.RunsByKey(ctx, "flightsw", "adcs", "thermal_vac", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	// Insertion order newest-first; equal created_at falls back to run_id desc.
	assert.Equal(t, "run-c", runs[0].RunID)

	none, err := s.RunsByKey(ctx, "flightsw", "adcs", "other_test", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTagLastWriterWins(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.SetTag(ctx, "golden", "run-1", "h1"))
	require.NoError(t, s.SetTag(ctx, "golden", "run-2", "h2"))

	tag, err := s.GetTag(ctx, "golden")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, "run-2", tag.RunID)
	assert.Equal(t, "h2", tag.RegistryHash)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	missing, err := s.GetTag(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRequestApprovalLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	req, err := s.AddRequest(ctx, "run-1", "golden", "alice", "new golden")
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestPending, req.Status)

	_, err = s.AddApproval(ctx, "run-1", "golden", "bob", "lgtm", req.RequestID)
	require.NoError(t, err)
	_, err = s.AddApproval(ctx, "run-1", "golden", "carol", "lgtm", req.RequestID)
	require.NoError(t, err)
	// Duplicate approver does not raise the distinct count.
	_, err = s.AddApproval(ctx, "run-1", "golden", "bob", "again", req.RequestID)
	require.NoError(t, err)

	n, err := s.CountApprovals(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.SetRequestStatus(ctx, req.RequestID, contracts.RequestApproved))

	got, err := s.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestApproved, got.Status)
	assert.NotNil(t, got.ApprovedAt)

	// The transition happens exactly once.
	err = s.SetRequestStatus(ctx, req.RequestID, contracts.RequestRejected)
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))
}

func TestActionLedgerIdempotency(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	entry := contracts.ActionLedgerEntry{
		ActionID:       uuid.New().String(),
		RunID:          "run-1",
		ActionType:     contracts.ActionNotify,
		Status:         contracts.LedgerPending,
		IdempotencyKey: "k1",
		Payload:        map[string]any{"channel": "ops"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.ActionLedgerInsert(ctx, entry))

	found, err := s.ActionLedgerByIdempotency(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.ActionID, found.ActionID)
	assert.Equal(t, "ops", found.Payload["channel"])

	none, err := s.ActionLedgerByIdempotency(ctx, "k2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestActionLedgerAckOnce(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	id := uuid.New().String()
	require.NoError(t, s.ActionLedgerInsert(ctx, contracts.ActionLedgerEntry{
		ActionID:   id,
		ActionType: contracts.ActionNotify,
		Status:     contracts.LedgerPending,
		CreatedAt:  time.Now().UTC(),
	}))

	require.NoError(t, s.ActionLedgerAck(ctx, id))

	got, err := s.ActionLedgerGet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.LedgerAck, got.Status)
	assert.NotNil(t, got.AckAt)

	// Non-pending entries cannot be acked again.
	require.Error(t, s.ActionLedgerAck(ctx, id))
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
