package contracts

// Status is the verdict of a comparison. The string values are a stable
// contract; downstream consumers pattern-match on them.
type Status string

const (
	StatusPass      Status = "PASS"
	StatusDrift     Status = "PASS_WITH_DRIFT"
	StatusFail      Status = "FAIL"
	StatusNoMetrics Status = "NO_METRICS"
	StatusNoTest    Status = "NO_TEST"
)

// Severity classifies a wire event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityFail     Severity = "FAIL"
	SeverityCritical Severity = "CRITICAL"
)

// DriftMetric is one drifted metric in a comparison result.
type DriftMetric struct {
	Metric   string   `json:"metric"`
	Baseline float64  `json:"baseline"`
	Current  float64  `json:"current"`
	Delta    float64  `json:"delta"`
	Percent  *float64 `json:"percent,omitempty"`
	Severity string   `json:"severity"` // "DRIFT" or "FAIL"
}

// InvariantViolation records a current value breaking a configured invariant.
type InvariantViolation struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Invariant string  `json:"invariant"` // "eq", "min", "max"
	Bound     float64 `json:"bound"`
}

// DistributionDrift records a two-sample KS test exceeding its threshold.
type DistributionDrift struct {
	Metric        string  `json:"metric"`
	Statistic     float64 `json:"statistic"`
	Threshold     float64 `json:"threshold"`
	BaselineCount int     `json:"baseline_count"`
	CurrentCount  int     `json:"current_count"`
}

// SampleStats summarizes a sample list (or a degenerate single value).
type SampleStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Std    float64 `json:"std"`
	Count  int     `json:"count"`
}

// Onset locates where a drift began inside the current sample window.
type Onset struct {
	FirstExceedIndex *int `json:"first_exceed_index,omitempty"`
	SustainedIndex   *int `json:"sustained_index,omitempty"`
}

// Attribution explains a drifted or failed metric.
type Attribution struct {
	Metric        string             `json:"metric"`
	Score         float64            `json:"score"`
	ZScore        *float64           `json:"zscore,omitempty"`
	Delta         float64            `json:"delta"`
	BaselineStats SampleStats        `json:"baseline_stats"`
	CurrentStats  SampleStats        `json:"current_stats"`
	Onset         Onset              `json:"onset"`
	Evidence      []float64          `json:"evidence,omitempty"`
	Correlations  map[string]float64 `json:"raw_feature_correlations,omitempty"`
	SourceColumns []string           `json:"source_columns,omitempty"`
	Confidence    string             `json:"confidence,omitempty"` // "high", "medium", "low"
	Notes         []string           `json:"notes,omitempty"`
}

// AssertResult is the outcome of one configured assertion.
type AssertResult struct {
	Metric string  `json:"metric"`
	Op     string  `json:"op"`
	Bound  float64 `json:"bound"`
	Value  float64 `json:"value"`
	Passed bool    `json:"passed"`
}

// CompareResult is the full output of one engine comparison.
type CompareResult struct {
	Status              Status               `json:"status"`
	DriftMetrics        []DriftMetric        `json:"drift_metrics"`
	Warnings            []string             `json:"warnings"`
	FailMetrics         []string             `json:"fail_metrics"`
	InvariantViolations []InvariantViolation `json:"invariant_violations"`
	DistributionDrifts  []DistributionDrift  `json:"distribution_drifts"`
	Attribution         []Attribution        `json:"drift_attribution"`
}

// DecisionRecordSchemaVersion is the stable schema version of DecisionRecord.
const DecisionRecordSchemaVersion = "1.0"

// DecisionRecord is the canonical, immutable summary of a single decision.
// Written once per decision and copied into the evidence bundle.
type DecisionRecord struct {
	SchemaVersion      string   `json:"schema_version"`
	DecisionID         string   `json:"decision_id"`
	Timestamp          string   `json:"timestamp"`
	Status             Status   `json:"status"`
	Confidence         *float64 `json:"confidence,omitempty"`
	BaselineConfidence *float64 `json:"baseline_confidence,omitempty"`
	TriggerMetrics     []string `json:"trigger_metrics"`
	ActionRequested    string   `json:"action_requested,omitempty"`
	ActionAllowed      bool     `json:"action_allowed"`
	Reason             string   `json:"reason"`
	PolicyVersion      string   `json:"policy_version,omitempty"`
	ConfigHash         string   `json:"config_hash"`
	EvidenceRef        string   `json:"evidence_ref,omitempty"`
	RunID              string   `json:"run_id,omitempty"`
	BaselineRunID      string   `json:"baseline_run_id,omitempty"`
	CorrelationID      string   `json:"correlation_id,omitempty"`
}

// InputSliceRef identifies the window a streaming decision was computed over.
type InputSliceRef struct {
	WindowStart float64 `json:"window_start"`
	WindowEnd   float64 `json:"window_end"`
	Watermark   float64 `json:"watermark"`
	MetricCount int     `json:"metric_count"`
}

// DecisionSnapshot is the streaming evaluator's per-emit artifact.
type DecisionSnapshot struct {
	DecisionID         string            `json:"decision_id"`
	TsUTC              string            `json:"ts_utc"`
	InputSlice         InputSliceRef     `json:"input_slice_ref"`
	ConfigRef          map[string]string `json:"config_ref"`
	CodeRef            string            `json:"code_ref,omitempty"`
	Decision           CompareResult     `json:"decision_payload"`
	DecisionLatencySec float64           `json:"decision_latency_sec"`
}
