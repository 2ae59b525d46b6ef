// Package actions implements the policy-driven action engine: rule matching,
// safety and authority gates, and durable ledger execution.
package actions

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Modes of the whole engine. Safe mode blocks everything except notify.
const (
	ModeNormal = "normal"
	ModeSafe   = "safe"
)

// supportedPolicyVersions gates which policy documents this engine accepts.
var supportedPolicyVersions = mustConstraint(">= 1.0.0, < 2.0.0")

// Condition compares one context value against a bound.
type Condition struct {
	Key   string  `yaml:"key" json:"key"`
	Op    string  `yaml:"op" json:"op"` // >=, >, <, <=, ==
	Value float64 `yaml:"value" json:"value"`
}

// ActionSpec is one action a rule proposes. Tier overrides the built-in
// default tier when set.
type ActionSpec struct {
	Type   contracts.ActionType `yaml:"type" json:"type"`
	Params map[string]any       `yaml:"params,omitempty" json:"params,omitempty"`
	Tier   *int                 `yaml:"tier,omitempty" json:"tier,omitempty"`
}

// Rule matches decision statuses plus conditions and proposes actions.
// Expr is an optional CEL expression over the evaluation context; it is
// evaluated fail-closed (errors block the rule).
type Rule struct {
	Status     []string     `yaml:"status" json:"status"`
	Conditions []Condition  `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Expr       string       `yaml:"expr,omitempty" json:"expr,omitempty"`
	Actions    []ActionSpec `yaml:"actions" json:"actions"`
}

// SafetyGate configures the extra gate for safety-critical actions.
type SafetyGate struct {
	RequireTwoConditions bool     `yaml:"require_two_conditions" json:"require_two_conditions"`
	CriticalActions      []string `yaml:"critical_actions,omitempty" json:"critical_actions,omitempty"`
}

// DecisionAuthority sets the confidence and persistence minima.
type DecisionAuthority struct {
	MinConfidence         float64 `yaml:"min_confidence" json:"min_confidence"`
	MinBaselineConfidence float64 `yaml:"min_baseline_confidence" json:"min_baseline_confidence"`
	MinMetricsForCritical int     `yaml:"min_metrics_for_critical" json:"min_metrics_for_critical"`
	TimePersistenceCycles int     `yaml:"time_persistence_cycles" json:"time_persistence_cycles"`
}

// Policy is the action policy document.
type Policy struct {
	Version               string            `yaml:"version" json:"version"`
	Rules                 []Rule            `yaml:"rules" json:"rules"`
	SafetyGate            SafetyGate        `yaml:"safety_gate" json:"safety_gate"`
	DecisionAuthority     DecisionAuthority `yaml:"decision_authority" json:"decision_authority"`
	MaxAllowedTier        int               `yaml:"max_allowed_tier" json:"max_allowed_tier"`
	RequireTwoManForTier3 bool              `yaml:"require_two_man_for_tier3" json:"require_two_man_for_tier3"`
	FailSafeOnTiming      bool              `yaml:"fail_safe_on_timing" json:"fail_safe_on_timing"`
	HBMode                string            `yaml:"hb_mode" json:"hb_mode"`
}

// LoadPolicy reads an action policy YAML and validates it.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, contracts.WrapError(contracts.KindConfig, "read action policy", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy builds a Policy from raw YAML bytes. The version must be a
// semantic version inside the engine's supported range.
func ParsePolicy(data []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, contracts.WrapError(contracts.KindConfig, "parse action policy", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks the version gate, mode, tiers, and condition operators.
func (p Policy) Validate() error {
	ver, err := semver.NewVersion(p.Version)
	if err != nil {
		return contracts.Errorf(contracts.KindConfig,
			"action policy version %q is not a semantic version", p.Version)
	}
	if !supportedPolicyVersions.Check(ver) {
		return contracts.Errorf(contracts.KindConfig,
			"action policy version %s outside the supported range %s",
			p.Version, supportedPolicyVersions)
	}
	if p.HBMode != "" && p.HBMode != ModeNormal && p.HBMode != ModeSafe {
		return contracts.Errorf(contracts.KindConfig, "unknown hb_mode %q", p.HBMode)
	}
	if p.MaxAllowedTier < 0 || p.MaxAllowedTier > 3 {
		return contracts.Errorf(contracts.KindConfig,
			"max_allowed_tier %d outside [0,3]", p.MaxAllowedTier)
	}
	for i, rule := range p.Rules {
		if len(rule.Actions) == 0 {
			return contracts.Errorf(contracts.KindConfig, "rule %d has no actions", i)
		}
		for _, cond := range rule.Conditions {
			switch cond.Op {
			case ">=", ">", "<", "<=", "==":
			default:
				return contracts.Errorf(contracts.KindConfig,
					"rule %d: unknown condition op %q", i, cond.Op)
			}
		}
	}
	return nil
}

// Mode returns the effective engine mode.
func (p Policy) Mode() string {
	if p.HBMode == "" {
		return ModeNormal
	}
	return p.HBMode
}

// Tier resolves an action's effective tier.
func (a ActionSpec) EffectiveTier() int {
	if a.Tier != nil {
		return *a.Tier
	}
	return a.Type.DefaultTier()
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("bad version constraint %q: %v", s, err))
	}
	return c
}
