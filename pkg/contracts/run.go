package contracts

import "time"

// BuildInfo identifies the build a run was produced from.
type BuildInfo struct {
	GitSHA  string `json:"git_sha,omitempty"`
	BuildID string `json:"build_id,omitempty"`
}

// RunMeta is the normalized identity of a telemetry run.
type RunMeta struct {
	RunID         string    `json:"run_id"`
	Program       string    `json:"program"`
	Subsystem     string    `json:"subsystem"`
	TestName      string    `json:"test_name"`
	Environment   string    `json:"environment"`
	Build         BuildInfo `json:"build"`
	StartUTC      time.Time `json:"start_utc"`
	EndUTC        time.Time `json:"end_utc"`
	SourceSystem  string    `json:"source_system,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Run is the persistent registry row for a run.
type Run struct {
	RunID         string    `json:"run_id"`
	Program       string    `json:"program"`
	Subsystem     string    `json:"subsystem"`
	TestName      string    `json:"test_name"`
	Environment   string    `json:"environment"`
	BuildSHA      string    `json:"build_sha,omitempty"`
	BuildID       string    `json:"build_id,omitempty"`
	StartUTC      time.Time `json:"start_utc"`
	EndUTC        time.Time `json:"end_utc"`
	SourceSystem  string    `json:"source_system,omitempty"`
	RegistryHash  string    `json:"registry_hash,omitempty"`
	Status        string    `json:"status"`
	BaselineRunID string    `json:"baseline_run_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BaselineTag is a named pointer (e.g. "golden") to a run.
type BaselineTag struct {
	Tag          string    `json:"tag"`
	RunID        string    `json:"run_id"`
	RegistryHash string    `json:"registry_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Baseline request lifecycle states. A request transitions
// pending -> approved|rejected exactly once.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// BaselineRequest is an open tagging request awaiting approvals.
type BaselineRequest struct {
	RequestID   string     `json:"request_id"`
	RunID       string     `json:"run_id"`
	Tag         string     `json:"tag"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// BaselineApproval is an immutable approval record for a tagging request.
type BaselineApproval struct {
	ApprovalID string    `json:"approval_id"`
	RunID      string    `json:"run_id"`
	Tag        string    `json:"tag"`
	ApprovedBy string    `json:"approved_by"`
	Reason     string    `json:"reason,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
