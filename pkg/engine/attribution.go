package engine

import (
	"math"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// zScoreOnsetThreshold is the |score| bound used for onset detection when
// the baseline has spread (scores are z-scores).
const zScoreOnsetThreshold = 2.0

const evidenceWindow = 7

// attribute builds the per-metric explanation for a drifted or failed metric.
func attribute(name string, cfg contracts.MetricConfig, cur, base contracts.Metric, delta float64) contracts.Attribution {
	curSamples := cur.Samples()
	if len(curSamples) == 0 {
		curSamples = []float64{*cur.Value}
	}
	baseSamples := base.Samples()
	if len(baseSamples) == 0 {
		baseSamples = []float64{*base.Value}
	}

	baseStats := SampleStats(baseSamples)
	curStats := SampleStats(curSamples)

	attr := contracts.Attribution{
		Metric:        name,
		Delta:         delta,
		BaselineStats: baseStats,
		CurrentStats:  curStats,
		SourceColumns: cfg.SourceColumns,
	}

	// baseline_std == 0 means the z-score is explicitly null, not infinite.
	score := delta
	if baseStats.Std > 0 {
		z := delta / baseStats.Std
		attr.ZScore = &z
		score = z
	}
	attr.Score = score

	// Per-sample drift scores: z-scores against the baseline when it has
	// spread, raw deviations from the baseline mean otherwise.
	scores := make([]float64, len(curSamples))
	threshold := zScoreOnsetThreshold
	for i, s := range curSamples {
		if baseStats.Std > 0 {
			scores[i] = (s - baseStats.Mean) / baseStats.Std
		} else {
			scores[i] = s - baseStats.Mean
		}
	}
	if baseStats.Std == 0 {
		if cfg.DriftThreshold != nil {
			threshold = *cfg.DriftThreshold
		} else {
			threshold = 0
		}
	}

	first, sustained := onsetIndexes(scores, threshold, cfg.Persistence())
	attr.Onset = contracts.Onset{FirstExceedIndex: first, SustainedIndex: sustained}
	attr.Evidence = evidenceSlice(curSamples, first, sustained)

	if len(curSamples) > 1 {
		r := Pearson(curSamples, scores)
		if math.Abs(r) >= 0.30 {
			labels := cfg.SourceColumns
			if len(labels) == 0 {
				labels = []string{name}
			}
			attr.Correlations = make(map[string]float64, len(labels))
			for _, label := range labels {
				attr.Correlations[label] = r
			}
		} else {
			attr.Notes = append(attr.Notes, "low attribution confidence")
		}
	}

	switch {
	case curStats.Count >= 200:
		attr.Confidence = "high"
	case curStats.Count >= 50:
		attr.Confidence = "medium"
	case curStats.Count > 0:
		attr.Confidence = "low"
	}
	return attr
}

// onsetIndexes returns the first index whose |score| clears the threshold and
// the start of the first run of at least persistence such indexes.
func onsetIndexes(scores []float64, threshold float64, persistence int) (first, sustained *int) {
	runStart := -1
	runLen := 0
	for i, s := range scores {
		if math.Abs(s) > threshold {
			if first == nil {
				idx := i
				first = &idx
			}
			if runStart < 0 {
				runStart = i
			}
			runLen++
			if runLen >= persistence && sustained == nil {
				idx := runStart
				sustained = &idx
			}
		} else {
			runStart = -1
			runLen = 0
		}
	}
	return first, sustained
}

// evidenceSlice returns a contiguous slice of about evidenceWindow samples
// centered on the sustained onset, the first exceed, or the head.
func evidenceSlice(samples []float64, first, sustained *int) []float64 {
	if len(samples) == 0 {
		return nil
	}
	center := 0
	if sustained != nil {
		center = *sustained
	} else if first != nil {
		center = *first
	}
	lo := center - evidenceWindow/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + evidenceWindow
	if hi > len(samples) {
		hi = len(samples)
		if hi-evidenceWindow > 0 {
			lo = hi - evidenceWindow
		} else {
			lo = 0
		}
	}
	out := make([]float64, hi-lo)
	copy(out, samples[lo:hi])
	return out
}
