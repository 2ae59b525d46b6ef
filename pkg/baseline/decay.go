package baseline

import (
	"fmt"
	"math"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// DecayReport says whether a selected baseline is too stale to trust.
type DecayReport struct {
	Stale         bool     `json:"stale"`
	AgeSec        float64  `json:"age_sec"`
	CommonMetrics int      `json:"common_metrics"`
	DriftFraction float64  `json:"drift_fraction"`
	Reasons       []string `json:"reasons,omitempty"`
}

// EvaluateDecay checks a baseline against the current run. A baseline is
// stale when it is too old, when too few metrics are shared with the current
// run, or when at least half of the shared metrics have moved by more than
// the allowed relative fraction.
func EvaluateDecay(now, baselineEnd time.Time, current, baseline map[string]contracts.Metric, policy DecayPolicy) DecayReport {
	rep := DecayReport{AgeSec: now.Sub(baselineEnd).Seconds()}

	if policy.MaxAgeSec > 0 && rep.AgeSec > policy.MaxAgeSec {
		rep.Stale = true
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"baseline age %.0fs exceeds %.0fs", rep.AgeSec, policy.MaxAgeSec))
	}

	common, drifting := 0, 0
	for name, cur := range current {
		base, ok := baseline[name]
		if !ok || cur.Value == nil || base.Value == nil {
			continue
		}
		common++
		if relativeMove(*cur.Value, *base.Value) > policy.MaxDriftFraction {
			drifting++
		}
	}
	rep.CommonMetrics = common
	if common > 0 {
		rep.DriftFraction = float64(drifting) / float64(common)
	}

	if common < policy.MinMetrics {
		rep.Stale = true
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"only %d metrics shared with the baseline (need %d)", common, policy.MinMetrics))
	}
	if policy.MaxDriftFraction > 0 && common > 0 && rep.DriftFraction >= 0.5 {
		rep.Stale = true
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"%d of %d shared metrics moved beyond %.0f%% of their baseline value",
			drifting, common, policy.MaxDriftFraction*100))
	}
	return rep
}

// relativeMove is |cur-base| / |base|, with a zero baseline treated as an
// infinite move when the current value differs at all.
func relativeMove(cur, base float64) float64 {
	if base == 0 {
		if cur == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(cur-base) / math.Abs(base)
}
