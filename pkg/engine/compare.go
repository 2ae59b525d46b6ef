package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
)

// Compare evaluates current metrics against a baseline under the registry's
// compare rules. Per-metric data problems become warnings, never errors.
//
// Output ordering is fully deterministic: drift metrics by |delta| descending
// with name tie-break, attribution by |score| descending with name tie-break,
// everything else in canonical name order.
func Compare(current, baseline map[string]contracts.Metric, reg *registry.Registry, distributionEnabled bool) contracts.CompareResult {
	res := contracts.CompareResult{
		DriftMetrics:        []contracts.DriftMetric{},
		Warnings:            []string{},
		FailMetrics:         []string{},
		InvariantViolations: []contracts.InvariantViolation{},
		DistributionDrifts:  []contracts.DistributionDrift{},
		Attribution:         []contracts.Attribution{},
	}

	names := unionNames(current, baseline)
	failSet := make(map[string]bool)
	evaluable := 0

	type pending struct {
		name     string
		cfg      contracts.MetricConfig
		cur      contracts.Metric
		base     contracts.Metric
		hasBase  bool
		curVal   float64
		baseVal  float64
		delta    float64
		severity string
	}
	var attributable []pending

	for _, name := range names {
		cfg, known := reg.Config(name)
		if !known {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown metric: %s", name))
		}

		cur, hasCur := current[name]
		if !hasCur || cur.Value == nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("missing current metric: %s", name))
			continue
		}
		evaluable++
		curVal := *cur.Value

		// Invariants on the current value.
		if cfg.InvariantEq != nil && curVal != *cfg.InvariantEq {
			res.InvariantViolations = append(res.InvariantViolations, contracts.InvariantViolation{
				Metric: name, Value: curVal, Invariant: "eq", Bound: *cfg.InvariantEq,
			})
			failSet[name] = true
		}
		if cfg.InvariantMin != nil && curVal < *cfg.InvariantMin {
			res.InvariantViolations = append(res.InvariantViolations, contracts.InvariantViolation{
				Metric: name, Value: curVal, Invariant: "min", Bound: *cfg.InvariantMin,
			})
			failSet[name] = true
		}
		if cfg.InvariantMax != nil && curVal > *cfg.InvariantMax {
			res.InvariantViolations = append(res.InvariantViolations, contracts.InvariantViolation{
				Metric: name, Value: curVal, Invariant: "max", Bound: *cfg.InvariantMax,
			})
			failSet[name] = true
		}

		// Criticality: fail_threshold applies to critical metrics only.
		if cfg.Critical {
			if cfg.FailThreshold == nil {
				if curVal > 0 {
					failSet[name] = true
				}
			} else if curVal > *cfg.FailThreshold {
				failSet[name] = true
			}
		}

		base, hasBase := baseline[name]
		if !hasBase || base.Value == nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("missing baseline metric: %s", name))
			if failSet[name] {
				attributable = append(attributable, pending{
					name: name, cfg: cfg, cur: cur, curVal: curVal, severity: "FAIL",
				})
			}
			continue
		}
		baseVal := *base.Value
		delta := curVal - baseVal

		var percent *float64
		if baseVal != 0 {
			p := 100 * delta / baseVal
			percent = &p
		}

		isDrift := false
		if cfg.DriftThreshold != nil && math.Abs(delta) > *cfg.DriftThreshold {
			isDrift = true
		}
		if cfg.DriftPercent != nil && percent != nil && math.Abs(*percent) > *cfg.DriftPercent {
			isDrift = true
		}
		// Hysteresis floor: tiny absolute deltas never count as drift.
		if isDrift && cfg.MinEffect != nil && math.Abs(delta) < *cfg.MinEffect {
			isDrift = false
		}

		severity := "DRIFT"
		if failSet[name] {
			severity = "FAIL"
		}

		if isDrift {
			res.DriftMetrics = append(res.DriftMetrics, contracts.DriftMetric{
				Metric:   name,
				Baseline: baseVal,
				Current:  curVal,
				Delta:    delta,
				Percent:  percent,
				Severity: severity,
			})
		}

		if distributionEnabled && cfg.Distribution != nil {
			curSamples := cur.Samples()
			baseSamples := base.Samples()
			if len(curSamples) > 0 && len(baseSamples) > 0 {
				d := KSStatistic(curSamples, baseSamples)
				if d > cfg.Distribution.KSThreshold {
					res.DistributionDrifts = append(res.DistributionDrifts, contracts.DistributionDrift{
						Metric:        name,
						Statistic:     d,
						Threshold:     cfg.Distribution.KSThreshold,
						BaselineCount: len(baseSamples),
						CurrentCount:  len(curSamples),
					})
				}
			}
		}

		if isDrift || failSet[name] {
			attributable = append(attributable, pending{
				name: name, cfg: cfg, cur: cur, base: base, hasBase: true,
				curVal: curVal, baseVal: baseVal, delta: delta, severity: severity,
			})
		}
	}

	for _, p := range attributable {
		if !p.hasBase {
			continue // attribution needs a baseline to measure against
		}
		res.Attribution = append(res.Attribution, attribute(p.name, p.cfg, p.cur, p.base, p.delta))
	}

	res.FailMetrics = sortedKeys(failSet)
	res.Warnings = dedupSorted(res.Warnings)
	if res.Warnings == nil {
		res.Warnings = []string{}
	}

	sort.SliceStable(res.DriftMetrics, func(i, j int) bool {
		di, dj := math.Abs(res.DriftMetrics[i].Delta), math.Abs(res.DriftMetrics[j].Delta)
		if di != dj {
			return di > dj
		}
		return res.DriftMetrics[i].Metric < res.DriftMetrics[j].Metric
	})
	sort.SliceStable(res.Attribution, func(i, j int) bool {
		si, sj := math.Abs(res.Attribution[i].Score), math.Abs(res.Attribution[j].Score)
		if si != sj {
			return si > sj
		}
		return res.Attribution[i].Metric < res.Attribution[j].Metric
	})

	switch {
	case evaluable == 0:
		res.Status = contracts.StatusNoMetrics
	case len(res.FailMetrics) > 0:
		res.Status = contracts.StatusFail
	case len(res.DriftMetrics) > 0 || len(res.DistributionDrifts) > 0:
		res.Status = contracts.StatusDrift
	default:
		res.Status = contracts.StatusPass
	}
	return res
}

func unionNames(a, b map[string]contracts.Metric) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for name := range a {
		seen[name] = true
	}
	for name := range b {
		seen[name] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MapSeverity derives the wire-event severity for a comparison result.
// CRITICAL is promoted when any failed metric is configured critical.
func MapSeverity(res contracts.CompareResult, reg *registry.Registry) contracts.Severity {
	switch res.Status {
	case contracts.StatusFail:
		for _, name := range res.FailMetrics {
			if cfg, ok := reg.Config(name); ok && cfg.Critical {
				return contracts.SeverityCritical
			}
		}
		return contracts.SeverityFail
	case contracts.StatusDrift:
		return contracts.SeverityWarn
	default:
		return contracts.SeverityInfo
	}
}
