package baseline

import (
	"context"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// TagStore is the slice of the run registry that the tagging workflow needs.
type TagStore interface {
	GetRun(ctx context.Context, runID string) (*contracts.Run, error)
	SetTag(ctx context.Context, tag, runID, registryHash string) error
	AddRequest(ctx context.Context, runID, tag, requestedBy, reason string) (*contracts.BaselineRequest, error)
	GetRequest(ctx context.Context, requestID string) (*contracts.BaselineRequest, error)
	SetRequestStatus(ctx context.Context, requestID, status string) error
	AddApproval(ctx context.Context, runID, tag, approvedBy, reason, requestID string) (*contracts.BaselineApproval, error)
	CountApprovals(ctx context.Context, requestID string) (int, error)
}

// Governor enforces the tagging workflow against a policy.
type Governor struct {
	store  TagStore
	policy GovernancePolicy
}

// NewGovernor builds a governor for a policy.
func NewGovernor(store TagStore, policy GovernancePolicy) *Governor {
	return &Governor{store: store, policy: policy}
}

// SetTag tags a run directly. Refused when approvals are required or when
// the run is missing or was recorded under an incompatible registry.
func (g *Governor) SetTag(ctx context.Context, tag, runID, registryHash string) error {
	if g.policy.RequireApproval {
		return contracts.Errorf(contracts.KindGovernance,
			"tag %q requires an approved request", tag)
	}
	if err := g.checkTarget(ctx, runID, registryHash); err != nil {
		return err
	}
	return g.store.SetTag(ctx, tag, runID, registryHash)
}

// Request opens a tagging request for a run.
func (g *Governor) Request(ctx context.Context, tag, runID, requestedBy, reason, registryHash string) (*contracts.BaselineRequest, error) {
	if err := g.checkTarget(ctx, runID, registryHash); err != nil {
		return nil, err
	}
	return g.store.AddRequest(ctx, runID, tag, requestedBy, reason)
}

// Approve records one approval. When the distinct-approver quorum is reached
// the request transitions to approved and the tag is set.
func (g *Governor) Approve(ctx context.Context, requestID, approvedBy, reason, registryHash string) (*contracts.BaselineRequest, error) {
	if !g.approverAllowed(approvedBy) {
		return nil, contracts.Errorf(contracts.KindGovernance,
			"%s is not in the configured approver set", approvedBy)
	}
	req, err := g.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, contracts.Errorf(contracts.KindGovernance, "request %s not found", requestID)
	}
	if req.Status != contracts.RequestPending {
		return nil, contracts.Errorf(contracts.KindGovernance,
			"request %s is already %s", requestID, req.Status)
	}
	if req.RequestedBy == approvedBy {
		return nil, contracts.Errorf(contracts.KindGovernance,
			"requester %s cannot approve their own request", approvedBy)
	}

	if _, err := g.store.AddApproval(ctx, req.RunID, req.Tag, approvedBy, reason, requestID); err != nil {
		return nil, err
	}
	count, err := g.store.CountApprovals(ctx, requestID)
	if err != nil {
		return nil, err
	}

	required := g.policy.ApprovalsRequired
	if required <= 0 {
		required = 1
	}
	if count >= required {
		if err := g.store.SetRequestStatus(ctx, requestID, contracts.RequestApproved); err != nil {
			return nil, err
		}
		if err := g.store.SetTag(ctx, req.Tag, req.RunID, registryHash); err != nil {
			return nil, err
		}
	}
	return g.store.GetRequest(ctx, requestID)
}

// Reject closes a pending request without tagging.
func (g *Governor) Reject(ctx context.Context, requestID, rejectedBy string) error {
	if !g.approverAllowed(rejectedBy) {
		return contracts.Errorf(contracts.KindGovernance,
			"%s is not in the configured approver set", rejectedBy)
	}
	return g.store.SetRequestStatus(ctx, requestID, contracts.RequestRejected)
}

func (g *Governor) approverAllowed(who string) bool {
	if len(g.policy.Approvers) == 0 {
		return true
	}
	for _, a := range g.policy.Approvers {
		if a == who {
			return true
		}
	}
	return false
}

// checkTarget validates that the tag target exists and, when enforced, that
// its registry hash matches the current one.
func (g *Governor) checkTarget(ctx context.Context, runID, registryHash string) error {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return contracts.Errorf(contracts.KindGovernance, "run %s does not exist", runID)
	}
	if g.policy.EnforceRegistryHash && registryHash != "" &&
		run.RegistryHash != "" && run.RegistryHash != registryHash {
		return contracts.Errorf(contracts.KindGovernance,
			"run %s was recorded under a different metric registry", runID)
	}
	return nil
}
