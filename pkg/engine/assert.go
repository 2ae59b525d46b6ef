package engine

import (
	"sort"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// AssertSpec is one configured assertion against a current metric value.
type AssertSpec struct {
	Metric string  `yaml:"metric" json:"metric"`
	Op     string  `yaml:"op" json:"op"`
	Value  float64 `yaml:"value" json:"value"`
}

// EvaluateAsserts runs assertion specs against normalized current metrics.
// A missing metric or unknown operator fails the assertion. Results are
// returned in spec order with a stable secondary sort by metric name.
func EvaluateAsserts(specs []AssertSpec, current map[string]contracts.Metric) []contracts.AssertResult {
	if len(specs) == 0 {
		return nil
	}
	out := make([]contracts.AssertResult, 0, len(specs))
	for _, spec := range specs {
		res := contracts.AssertResult{Metric: spec.Metric, Op: spec.Op, Bound: spec.Value}
		m, ok := current[spec.Metric]
		if ok && m.Value != nil {
			res.Value = *m.Value
			res.Passed = CompareOp(spec.Op, *m.Value, spec.Value)
		}
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// CompareOp evaluates `value op bound` for the closed operator set.
// Unknown operators evaluate false (fail closed).
func CompareOp(op string, value, bound float64) bool {
	switch op {
	case ">=":
		return value >= bound
	case ">":
		return value > bound
	case "<":
		return value < bound
	case "<=":
		return value <= bound
	case "==":
		return value == bound
	default:
		return false
	}
}
