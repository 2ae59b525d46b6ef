package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
)

// Block reasons emitted on proposals. Stable strings; sinks and operators
// pattern-match on them.
const (
	ReasonSafeModeOnlyNotify    = "safe_mode_only_notify"
	ReasonTierExceedsMax        = "tier_exceeds_max_allowed"
	ReasonTier3NeedsTwoMan      = "tier3_requires_second_approver"
	ReasonTier3NeedsPersistence = "tier3_requires_persistence"
	ReasonSafetyNeedsConditions = "safety_gate_requires_two_conditions"
	ReasonLowConfidence         = "confidence_below_minimum"
	ReasonLowBaselineConfidence = "baseline_confidence_below_minimum"
	ReasonTooFewFlaggedMetrics  = "too_few_flagged_metrics"
	ReasonInsufficientCycles    = "insufficient_persistence_cycles"
	ReasonTimingSLOMissed       = "timing_slo_not_met"
)

// EvalContext is everything the gates consult for one decision cycle.
type EvalContext struct {
	Status             contracts.Status
	Confidence         float64
	BaselineConfidence float64
	FlaggedMetrics     int
	PersistenceCycles  int
	// IndependentConditions is the number of independent trigger conditions
	// the caller observed; the safety gate requires at least two.
	IndependentConditions int
	TimingSLOMet          bool
	ApprovalToken         string
	SecondApproverID      string
	// Values backs the rule conditions ({key,op,value}) and the CEL exprs.
	Values map[string]float64

	RunID      string
	DecisionID string
}

// Proposal is the engine's verdict for one candidate action.
type Proposal struct {
	ActionType         contracts.ActionType `json:"action_type"`
	Tier               int                  `json:"tier"`
	Params             map[string]any       `json:"params,omitempty"`
	WouldExecute       bool                 `json:"would_execute"`
	BlockReason        string               `json:"block_reason,omitempty"`
	Confidence         float64              `json:"confidence"`
	BaselineConfidence float64              `json:"baseline_confidence"`
}

// Ledger is the durable store slice the executor writes through.
type Ledger interface {
	ActionLedgerInsert(ctx context.Context, entry contracts.ActionLedgerEntry) error
	ActionLedgerByIdempotency(ctx context.Context, key string) (*contracts.ActionLedgerEntry, error)
}

// Engine evaluates an action policy against decision contexts.
type Engine struct {
	policy   Policy
	approval *ApprovalVerifier
	logger   *slog.Logger
	now      func() time.Time

	celEnv   *cel.Env
	mu       sync.Mutex
	prgCache map[string]cel.Program
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithApprovalVerifier installs the tier-3 token verifier.
func WithApprovalVerifier(v *ApprovalVerifier) Option {
	return func(e *Engine) { e.approval = v }
}

// New builds an engine for a validated policy.
func New(policy Policy, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	env, err := cel.NewEnv(
		cel.Variable("status", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("baseline_confidence", cel.DoubleType),
		cel.Variable("flagged_metrics", cel.IntType),
		cel.Variable("persistence_cycles", cel.IntType),
		cel.Variable("values", cel.DynType),
	)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindPolicy, "build expression environment", err)
	}
	e := &Engine{
		policy:   policy,
		logger:   slog.Default().With("component", "actions"),
		now:      time.Now,
		celEnv:   env,
		prgCache: map[string]cel.Program{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PolicyVersion returns the loaded policy's version string.
func (e *Engine) PolicyVersion() string { return e.policy.Version }

// Propose evaluates every rule against the context and gates each proposed
// action. Blocked actions are returned with would_execute=false and a
// reason; blocking is an outcome, not an error.
func (e *Engine) Propose(ectx EvalContext) []Proposal {
	var out []Proposal
	for _, rule := range e.policy.Rules {
		if !e.ruleMatches(rule, ectx) {
			continue
		}
		for _, spec := range rule.Actions {
			p := Proposal{
				ActionType:         spec.Type,
				Tier:               spec.EffectiveTier(),
				Params:             spec.Params,
				Confidence:         ectx.Confidence,
				BaselineConfidence: ectx.BaselineConfidence,
			}
			if reason := e.gate(spec, p.Tier, ectx); reason != "" {
				p.BlockReason = reason
				e.logger.Warn("action blocked",
					"action", string(spec.Type), "tier", p.Tier, "reason", reason)
			} else {
				p.WouldExecute = true
			}
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) ruleMatches(rule Rule, ectx EvalContext) bool {
	matched := len(rule.Status) == 0
	for _, s := range rule.Status {
		if s == string(ectx.Status) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, cond := range rule.Conditions {
		v, ok := ectx.Values[cond.Key]
		if !ok || !engine.CompareOp(cond.Op, v, cond.Value) {
			return false
		}
	}
	if rule.Expr != "" {
		ok, err := e.evalExpr(rule.Expr, ectx)
		if err != nil {
			// Fail closed: an unevaluable expression never matches.
			e.logger.Warn("rule expression failed", "expr", rule.Expr, "error", err)
			return false
		}
		return ok
	}
	return true
}

// gate applies the safe-mode, tier, safety, confidence, and timing gates in
// order and returns the first block reason, or "" when the action may run.
func (e *Engine) gate(spec ActionSpec, tier int, ectx EvalContext) string {
	if e.policy.Mode() == ModeSafe && spec.Type != contracts.ActionNotify {
		return ReasonSafeModeOnlyNotify
	}

	auth := e.policy.DecisionAuthority
	if tier > e.policy.MaxAllowedTier {
		return ReasonTierExceedsMax
	}
	if tier >= 3 && e.policy.RequireTwoManForTier3 {
		if !e.twoManSatisfied(ectx) {
			return ReasonTier3NeedsTwoMan
		}
		if ectx.PersistenceCycles < auth.TimePersistenceCycles {
			return ReasonTier3NeedsPersistence
		}
	}

	critical := e.safetyCritical(spec.Type)
	if critical && e.policy.SafetyGate.RequireTwoConditions && ectx.IndependentConditions < 2 {
		return ReasonSafetyNeedsConditions
	}

	if ectx.Confidence < auth.MinConfidence {
		return ReasonLowConfidence
	}
	if ectx.BaselineConfidence < auth.MinBaselineConfidence {
		return ReasonLowBaselineConfidence
	}
	if critical {
		if ectx.FlaggedMetrics < auth.MinMetricsForCritical {
			return ReasonTooFewFlaggedMetrics
		}
		if ectx.PersistenceCycles < auth.TimePersistenceCycles {
			return ReasonInsufficientCycles
		}
	}

	if critical && (e.policy.FailSafeOnTiming && !ectx.TimingSLOMet) {
		return ReasonTimingSLOMissed
	}
	return ""
}

// safetyCritical consults the policy override list, falling back to the
// built-in set (abort, shutdown).
func (e *Engine) safetyCritical(t contracts.ActionType) bool {
	if len(e.policy.SafetyGate.CriticalActions) == 0 {
		return t.SafetyCritical()
	}
	for _, name := range e.policy.SafetyGate.CriticalActions {
		if name == string(t) {
			return true
		}
	}
	return false
}

func (e *Engine) twoManSatisfied(ectx EvalContext) bool {
	if ectx.ApprovalToken == "" || ectx.SecondApproverID == "" {
		return false
	}
	if e.approval == nil {
		return false
	}
	claims, err := e.approval.Verify(ectx.ApprovalToken)
	if err != nil {
		return false
	}
	// The token holder and the named second approver must differ.
	return claims.Approver != "" && claims.Approver != ectx.SecondApproverID
}

func (e *Engine) evalExpr(expr string, ectx EvalContext) (bool, error) {
	e.mu.Lock()
	prg, hit := e.prgCache[expr]
	if !hit {
		ast, issues := e.celEnv.Compile(expr)
		if issues != nil && issues.Err() != nil {
			e.mu.Unlock()
			return false, contracts.WrapError(contracts.KindPolicy, "compile expression", issues.Err())
		}
		var err error
		prg, err = e.celEnv.Program(ast)
		if err != nil {
			e.mu.Unlock()
			return false, contracts.WrapError(contracts.KindPolicy, "build expression program", err)
		}
		e.prgCache[expr] = prg
	}
	e.mu.Unlock()

	values := map[string]any{}
	for k, v := range ectx.Values {
		values[k] = v
	}
	out, _, err := prg.Eval(map[string]any{
		"status":              string(ectx.Status),
		"confidence":          ectx.Confidence,
		"baseline_confidence": ectx.BaselineConfidence,
		"flagged_metrics":     ectx.FlaggedMetrics,
		"persistence_cycles":  ectx.PersistenceCycles,
		"values":              values,
	})
	if err != nil {
		return false, contracts.WrapError(contracts.KindPolicy, "evaluate expression", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, contracts.Errorf(contracts.KindPolicy, "expression %q is not boolean", expr)
	}
	return allowed, nil
}

// Execute records proposals in the ledger. No external side effects happen
// here; a separate executor consumes pending rows. Dry runs record a
// synthetic entry; a reused idempotency key returns idempotent_skip with
// the original action id.
func (e *Engine) Execute(ctx context.Context, ledger Ledger, proposals []Proposal, ectx EvalContext, dryRun bool, idempotencyKey string) ([]contracts.ActionLedgerEntry, error) {
	var out []contracts.ActionLedgerEntry
	for _, p := range proposals {
		entry := contracts.ActionLedgerEntry{
			ActionID:         uuid.New().String(),
			RunID:            ectx.RunID,
			DecisionID:       ectx.DecisionID,
			ActionType:       p.ActionType,
			Payload:          p.Params,
			SafetyGatePassed: p.WouldExecute,
			DryRun:           dryRun,
			CreatedAt:        e.now().UTC(),
		}

		switch {
		case !p.WouldExecute:
			entry.Status = contracts.LedgerBlocked
			entry.Payload = withReason(entry.Payload, p.BlockReason)
			if err := ledger.ActionLedgerInsert(ctx, entry); err != nil {
				return out, err
			}

		case dryRun:
			entry.Status = contracts.LedgerDryRun
			if err := ledger.ActionLedgerInsert(ctx, entry); err != nil {
				return out, err
			}

		default:
			if idempotencyKey != "" {
				// One key per action type; a second execute with the same
				// key must not create a second pending row.
				key := idempotencyKey + ":" + string(p.ActionType)
				existing, err := ledger.ActionLedgerByIdempotency(ctx, key)
				if err != nil {
					return out, err
				}
				if existing != nil {
					entry.ActionID = existing.ActionID
					entry.Status = contracts.LedgerIdempotentSkip
					entry.IdempotencyKey = key
					out = append(out, entry)
					continue
				}
				entry.IdempotencyKey = key
			}
			entry.Status = contracts.LedgerPending
			if err := ledger.ActionLedgerInsert(ctx, entry); err != nil {
				return out, err
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func withReason(params map[string]any, reason string) map[string]any {
	out := map[string]any{"block_reason": reason}
	for k, v := range params {
		out[k] = v
	}
	return out
}
