package baseline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/store"
)

func governorForTest(t *testing.T, policy GovernancePolicy) (*Governor, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	meta := contracts.RunMeta{
		RunID: "run-1", Program: "flightsw", Subsystem: "adcs", TestName: "thermal_vac",
		StartUTC: time.Now().UTC(), EndUTC: time.Now().UTC(),
	}
	require.NoError(t, s.UpsertRun(context.Background(), meta, contracts.StatusPass, "", "h1"))
	return NewGovernor(s, policy), s
}

func TestDirectTagBlockedWhenApprovalRequired(t *testing.T) {
	g, _ := governorForTest(t, GovernancePolicy{RequireApproval: true, ApprovalsRequired: 2})

	err := g.SetTag(context.Background(), "golden", "run-1", "h1")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))
}

func TestDirectTagRejectsUnknownRun(t *testing.T) {
	g, _ := governorForTest(t, GovernancePolicy{})

	err := g.SetTag(context.Background(), "golden", "missing", "h1")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))
}

func TestDirectTagRejectsRegistryMismatch(t *testing.T) {
	g, _ := governorForTest(t, GovernancePolicy{EnforceRegistryHash: true})

	err := g.SetTag(context.Background(), "golden", "run-1", "other-hash")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))

	require.NoError(t, g.SetTag(context.Background(), "golden", "run-1", "h1"))
}

func TestApprovalQuorumSetsTag(t *testing.T) {
	ctx := context.Background()
	g, s := governorForTest(t, GovernancePolicy{
		RequireApproval:   true,
		ApprovalsRequired: 2,
		Approvers:         []string{"bob", "carol"},
	})

	req, err := g.Request(ctx, "golden", "run-1", "alice", "new golden", "h1")
	require.NoError(t, err)

	// First approval leaves the request pending and the tag unset.
	got, err := g.Approve(ctx, req.RequestID, "bob", "lgtm", "h1")
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestPending, got.Status)
	tag, err := s.GetTag(ctx, "golden")
	require.NoError(t, err)
	assert.Nil(t, tag)

	// Second distinct approver reaches the quorum.
	got, err = g.Approve(ctx, req.RequestID, "carol", "lgtm", "h1")
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestApproved, got.Status)
	tag, err = s.GetTag(ctx, "golden")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, "run-1", tag.RunID)

	// A settled request cannot be approved again.
	_, err = g.Approve(ctx, req.RequestID, "bob", "again", "h1")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))
}

func TestApproveRejectsOutsiderAndRequester(t *testing.T) {
	ctx := context.Background()
	g, _ := governorForTest(t, GovernancePolicy{
		RequireApproval:   true,
		ApprovalsRequired: 1,
		Approvers:         []string{"alice", "bob"},
	})

	req, err := g.Request(ctx, "golden", "run-1", "alice", "", "h1")
	require.NoError(t, err)

	_, err = g.Approve(ctx, req.RequestID, "mallory", "", "h1")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))

	_, err = g.Approve(ctx, req.RequestID, "alice", "self", "h1")
	require.Error(t, err)
	assert.Equal(t, contracts.KindGovernance, contracts.KindOf(err))
}

func TestRejectClosesRequest(t *testing.T) {
	ctx := context.Background()
	g, s := governorForTest(t, GovernancePolicy{RequireApproval: true, Approvers: []string{"bob"}})

	req, err := g.Request(ctx, "golden", "run-1", "alice", "", "h1")
	require.NoError(t, err)

	require.NoError(t, g.Reject(ctx, req.RequestID, "bob"))
	got, err := s.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, contracts.RequestRejected, got.Status)
}
