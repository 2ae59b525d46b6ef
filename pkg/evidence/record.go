// Package evidence builds decision records and evidence packs, and replays
// and verifies past decisions from their preserved inputs.
package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/canonicalize"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
)

// Config reference keys. The evidence pack stores the matching snapshot
// under config/<key>.yaml so verification can recompute the same map.
const (
	RefMetricRegistry = "metric_registry"
	RefBaselinePolicy = "baseline_policy"
	RefActionPolicy   = "action_policy"
)

// RecordInputs collects everything the decision record is derived from.
type RecordInputs struct {
	Result             contracts.CompareResult
	RunID              string
	BaselineRunID      string
	CorrelationID      string
	Confidence         *float64
	BaselineConfidence *float64
	ActionRequested    string
	ActionAllowed      bool
	Reason             string
	PolicyVersion      string
	// ConfigHashes maps Ref* keys to SHA-256 digests of the config files.
	ConfigHashes map[string]string
	Now          time.Time
}

// BuildRecord assembles the immutable decision record. The config hash is
// a SHA-256 over the sorted config hash map.
func BuildRecord(in RecordInputs) (contracts.DecisionRecord, error) {
	configHash, err := canonicalize.HashMap(in.ConfigHashes)
	if err != nil {
		return contracts.DecisionRecord{}, err
	}
	triggers := make([]string, 0, len(in.Result.FailMetrics)+len(in.Result.DriftMetrics))
	triggers = append(triggers, in.Result.FailMetrics...)
	for _, d := range in.Result.DriftMetrics {
		triggers = append(triggers, d.Metric)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	return contracts.DecisionRecord{
		SchemaVersion:      contracts.DecisionRecordSchemaVersion,
		DecisionID:         uuid.New().String(),
		Timestamp:          now.UTC().Format(time.RFC3339Nano),
		Status:             in.Result.Status,
		Confidence:         in.Confidence,
		BaselineConfidence: in.BaselineConfidence,
		TriggerMetrics:     dedup(triggers),
		ActionRequested:    in.ActionRequested,
		ActionAllowed:      in.ActionAllowed,
		Reason:             in.Reason,
		PolicyVersion:      in.PolicyVersion,
		ConfigHash:         configHash,
		RunID:              in.RunID,
		BaselineRunID:      in.BaselineRunID,
		CorrelationID:      in.CorrelationID,
	}, nil
}

// WriteRecord writes decision_record.json into the report directory.
func WriteRecord(dir string, rec contracts.DecisionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode decision record", err)
	}
	path := filepath.Join(dir, report.DecisionJSON)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write decision record", err)
	}
	return nil
}

// ReadRecord loads a decision record file.
func ReadRecord(path string) (contracts.DecisionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contracts.DecisionRecord{}, contracts.WrapError(contracts.KindTransientIO, "read decision record", err)
	}
	var rec contracts.DecisionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return contracts.DecisionRecord{}, contracts.WrapError(contracts.KindParse, "parse decision record", err)
	}
	return rec, nil
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
