// Package baseline implements baseline governance: selection policy,
// approval-gated tagging, quality scoring, and decay detection.
package baseline

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// QualityWeights are the per-signal weights of the confidence score.
type QualityWeights struct {
	Sample      float64 `yaml:"sample" json:"sample"`
	Stability   float64 `yaml:"stability" json:"stability"`
	Alerts      float64 `yaml:"alerts" json:"alerts"`
	Environment float64 `yaml:"environment" json:"environment"`
}

// QualityPolicy sets the minima and weights for baseline quality gating.
type QualityPolicy struct {
	MinSampleSize  int            `yaml:"min_sample_size" json:"min_sample_size"`
	MinTimeSpanSec float64        `yaml:"min_time_span_sec" json:"min_time_span_sec"`
	MinEnvScore    float64        `yaml:"min_env_score" json:"min_env_score"`
	Weights        QualityWeights `yaml:"weights" json:"weights"`
}

// DecayPolicy sets the staleness thresholds for a selected baseline.
type DecayPolicy struct {
	MaxAgeSec        float64 `yaml:"max_age_sec" json:"max_age_sec"`
	MinMetrics       int     `yaml:"min_metrics" json:"min_metrics"`
	MaxDriftFraction float64 `yaml:"max_drift_fraction" json:"max_drift_fraction"`
}

// GovernancePolicy controls the tagging workflow.
type GovernancePolicy struct {
	RequireApproval     bool     `yaml:"require_approval" json:"require_approval"`
	ApprovalsRequired   int      `yaml:"approvals_required" json:"approvals_required"`
	Approvers           []string `yaml:"approvers" json:"approvers"`
	EnforceRegistryHash bool     `yaml:"enforce_registry_hash" json:"enforce_registry_hash"`
}

// Policy is the baseline policy document.
type Policy struct {
	Tag                 string           `yaml:"tag,omitempty" json:"tag,omitempty"`
	Fallback            string           `yaml:"fallback,omitempty" json:"fallback,omitempty"` // "" or "latest"
	DistributionEnabled bool             `yaml:"distribution_enabled" json:"distribution_enabled"`
	Governance          GovernancePolicy `yaml:"governance" json:"governance"`
	Quality             QualityPolicy    `yaml:"quality" json:"quality"`
	Decay               DecayPolicy      `yaml:"decay" json:"decay"`
}

// DefaultPolicy returns the policy used when no file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Quality: QualityPolicy{
			MinSampleSize:  30,
			MinTimeSpanSec: 600,
			Weights: QualityWeights{
				Sample: 0.3, Stability: 0.3, Alerts: 0.2, Environment: 0.2,
			},
		},
		Decay: DecayPolicy{
			MaxAgeSec:        30 * 24 * 3600,
			MinMetrics:       3,
			MaxDriftFraction: 0.5,
		},
	}
}

// LoadPolicy reads a baseline policy YAML, filling defaults for omitted
// quality and decay sections.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, contracts.WrapError(contracts.KindConfig, "read baseline policy", err)
	}
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, contracts.WrapError(contracts.KindConfig, "parse baseline policy", err)
	}
	if policy.Governance.RequireApproval && policy.Governance.ApprovalsRequired <= 0 {
		policy.Governance.ApprovalsRequired = 1
	}
	return policy, nil
}
