// Package report writes the per-run artifact set: drift report JSON/HTML,
// normalized metrics CSV, normalized run meta, and the artifact manifest.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/heartbeat-ops/heartbeat/pkg/baseline"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// File names inside a report directory. Stable; external tooling globs them.
const (
	DriftReportJSON   = "drift_report.json"
	DriftReportHTML   = "drift_report.html"
	MetricsCSV        = "metrics_normalized.csv"
	RunMetaJSON       = "run_meta_normalized.json"
	DecisionJSON      = "decision_record.json"
	ManifestJSON      = "artifact_manifest.json"
	AuditLogJSONL     = "audit_log.jsonl"
	BaselineSnapshot  = "baseline_snapshot.json"
)

const (
	topDriftCount  = 5
	topDriverCount = 3
)

// AttributionSection is the report's condensed attribution section.
type AttributionSection struct {
	TopDrivers []contracts.Attribution `json:"top_drivers"`
}

// DriftReport is the stable drift_report.json document.
type DriftReport struct {
	RunID               string                         `json:"run_id"`
	Status              contracts.Status               `json:"status"`
	BaselineRunID       string                         `json:"baseline_run_id,omitempty"`
	BaselineReason      string                         `json:"baseline_reason"`
	BaselineWarning     string                         `json:"baseline_warning,omitempty"`
	DriftMetrics        []contracts.DriftMetric        `json:"drift_metrics"`
	TopDrifts           []contracts.DriftMetric        `json:"top_drifts"`
	DistributionDrifts  []contracts.DistributionDrift  `json:"distribution_drifts"`
	DriftAttribution    AttributionSection             `json:"drift_attribution"`
	Warnings            []string                       `json:"warnings"`
	FailMetrics         []string                       `json:"fail_metrics"`
	InvariantViolations []contracts.InvariantViolation `json:"invariant_violations"`
	AssertResults       []contracts.AssertResult       `json:"assert_results,omitempty"`
}

// Build assembles the report from engine output and baseline selection.
// Slices come out non-nil so the JSON always carries arrays, not nulls.
func Build(runID string, result contracts.CompareResult, sel baseline.Selection, asserts []contracts.AssertResult) DriftReport {
	rep := DriftReport{
		RunID:               runID,
		Status:              result.Status,
		BaselineRunID:       sel.BaselineRunID,
		BaselineReason:      sel.Reason,
		BaselineWarning:     sel.Warning,
		DriftMetrics:        orEmpty(result.DriftMetrics),
		DistributionDrifts:  orEmpty(result.DistributionDrifts),
		Warnings:            orEmpty(result.Warnings),
		FailMetrics:         orEmpty(result.FailMetrics),
		InvariantViolations: orEmpty(result.InvariantViolations),
		AssertResults:       asserts,
	}
	// DriftMetrics is already sorted by |delta| desc, attribution by |score|
	// desc; the top sections are plain prefixes.
	rep.TopDrifts = orEmpty(prefix(rep.DriftMetrics, topDriftCount))
	rep.DriftAttribution.TopDrivers = orEmpty(prefix(result.Attribution, topDriverCount))
	return rep
}

// WriteJSON writes the report into dir as drift_report.json.
func (r DriftReport) WriteJSON(dir string) error {
	return writeJSON(filepath.Join(dir, DriftReportJSON), r)
}

// WriteRunMeta writes the normalized run meta document.
func WriteRunMeta(dir string, meta contracts.RunMeta) error {
	return writeJSON(filepath.Join(dir, RunMetaJSON), meta)
}

// WriteBaselineSnapshot writes the selected baseline's metrics.
func WriteBaselineSnapshot(dir string, metrics map[string]contracts.Metric) error {
	return writeJSON(filepath.Join(dir, BaselineSnapshot), metrics)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write "+filepath.Base(path), err)
	}
	return nil
}

func prefix[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func orEmpty[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
