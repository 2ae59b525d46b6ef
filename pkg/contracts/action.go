package contracts

import "time"

// ActionType is the closed set of remediating action kinds.
type ActionType string

const (
	ActionNotify    ActionType = "notify"
	ActionRateLimit ActionType = "rate_limit"
	ActionDegrade   ActionType = "degrade"
	ActionIsolate   ActionType = "isolate"
	ActionFailover  ActionType = "failover"
	ActionAbort     ActionType = "abort"
	ActionShutdown  ActionType = "shutdown"
)

// DefaultTier returns the built-in tier for an action type.
func (a ActionType) DefaultTier() int {
	switch a {
	case ActionNotify, ActionRateLimit:
		return 1
	case ActionDegrade, ActionIsolate, ActionFailover:
		return 2
	case ActionAbort, ActionShutdown:
		return 3
	default:
		return 3 // unknown actions are treated as most restricted
	}
}

// SafetyCritical reports whether the action type requires the safety gate.
func (a ActionType) SafetyCritical() bool {
	return a == ActionAbort || a == ActionShutdown
}

// Action ledger entry states. Pending entries transition only to ack;
// the remaining states are terminal at insert time.
const (
	LedgerPending        = "pending"
	LedgerAck            = "ack"
	LedgerBlocked        = "blocked"
	LedgerIdempotentSkip = "idempotent_skip"
	LedgerDryRun         = "dry_run"
)

// ActionLedgerEntry is one row of the append-only action ledger.
type ActionLedgerEntry struct {
	ActionID         string         `json:"action_id"`
	RunID            string         `json:"run_id,omitempty"`
	DecisionID       string         `json:"decision_id,omitempty"`
	ActionType       ActionType     `json:"action_type"`
	Status           string         `json:"status"`
	Payload          map[string]any `json:"payload,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	SafetyGatePassed bool           `json:"safety_gate_passed"`
	DryRun           bool           `json:"dry_run"`
	CreatedAt        time.Time      `json:"created_at"`
	AckAt            *time.Time     `json:"ack_at,omitempty"`
}
