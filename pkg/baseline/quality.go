package baseline

import "fmt"

// QualityInputs are the raw signals the quality gate scores.
type QualityInputs struct {
	SampleSize  int     // total samples across metrics in the candidate run
	TimeSpanSec float64 // wall-clock span of the candidate run
	AlertCount  int     // operator alerts raised during the run window
	EnvScore    float64 // environment similarity in [0,1]; 1 = identical rig
}

// QualityReport is the outcome of the baseline quality gate.
type QualityReport struct {
	Confidence float64  `json:"confidence"`
	Passed     bool     `json:"passed"`
	Reasons    []string `json:"reasons,omitempty"`
}

// EvaluateQuality scores a candidate baseline. The confidence score is a
// weighted blend of the four signals, clamped to [0,1]; the gate passes only
// when every configured minimum is individually met.
func EvaluateQuality(in QualityInputs, policy QualityPolicy) QualityReport {
	var rep QualityReport

	sSample := 1.0
	if policy.MinSampleSize > 0 {
		sSample = clamp01(float64(in.SampleSize) / float64(policy.MinSampleSize))
		if in.SampleSize < policy.MinSampleSize {
			rep.Reasons = append(rep.Reasons, fmt.Sprintf(
				"sample size %d below minimum %d", in.SampleSize, policy.MinSampleSize))
		}
	}

	sStability := 1.0
	if policy.MinTimeSpanSec > 0 && in.TimeSpanSec < policy.MinTimeSpanSec {
		sStability = 0
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"time span %.0fs below minimum %.0fs", in.TimeSpanSec, policy.MinTimeSpanSec))
	}

	sAlerts := 1.0
	if in.AlertCount > 0 {
		sAlerts = 0
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"%d alerts raised during the candidate window", in.AlertCount))
	}

	sEnv := clamp01(in.EnvScore)
	if policy.MinEnvScore > 0 && sEnv < policy.MinEnvScore {
		rep.Reasons = append(rep.Reasons, fmt.Sprintf(
			"environment score %.2f below minimum %.2f", sEnv, policy.MinEnvScore))
	}

	w := policy.Weights
	rep.Confidence = clamp01(
		w.Sample*sSample + w.Stability*sStability + w.Alerts*sAlerts + w.Environment*sEnv)
	rep.Passed = len(rep.Reasons) == 0
	return rep
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
