package baseline

import (
	"context"
	"fmt"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// RunSource is the slice of the run registry that selection needs.
type RunSource interface {
	GetTag(ctx context.Context, tag string) (*contracts.BaselineTag, error)
	RunsByKey(ctx context.Context, program, subsystem, testName string, limit int) ([]contracts.Run, error)
}

// Selection is the outcome of baseline selection.
type Selection struct {
	BaselineRunID string            `json:"baseline_run_id,omitempty"`
	Reason        string            `json:"reason"`
	Warning       string            `json:"warning,omitempty"`
	MatchInfo     map[string]string `json:"match_info,omitempty"`
}

const selectionScanLimit = 50

// Select picks the baseline run for a run according to policy:
// an explicit tag wins; otherwise the newest passing run with the same
// (program, subsystem, test_name); optionally the newest run of any status
// when the policy falls back to "latest".
func Select(ctx context.Context, src RunSource, meta contracts.RunMeta, policy Policy, registryHash string) (Selection, error) {
	if policy.Tag != "" {
		tag, err := src.GetTag(ctx, policy.Tag)
		if err != nil {
			return Selection{}, err
		}
		if tag == nil {
			return Selection{Reason: "tag_not_found"}, nil
		}
		sel := Selection{
			BaselineRunID: tag.RunID,
			Reason:        "tag",
			MatchInfo:     map[string]string{"tag": policy.Tag},
		}
		if registryHash != "" && tag.RegistryHash != "" && tag.RegistryHash != registryHash {
			sel.Warning = fmt.Sprintf(
				"baseline tag %q was recorded under a different metric registry", policy.Tag)
		}
		return sel, nil
	}

	runs, err := src.RunsByKey(ctx, meta.Program, meta.Subsystem, meta.TestName, selectionScanLimit)
	if err != nil {
		return Selection{}, err
	}
	if len(runs) == 0 {
		return Selection{Reason: "no_runs"}, nil
	}

	match := map[string]string{
		"program":   meta.Program,
		"subsystem": meta.Subsystem,
		"test_name": meta.TestName,
	}
	for _, run := range runs {
		if run.RunID == meta.RunID {
			continue // a run is never its own baseline
		}
		if run.Status == string(contracts.StatusPass) {
			return Selection{BaselineRunID: run.RunID, Reason: "last_pass", MatchInfo: match}, nil
		}
	}

	if policy.Fallback == "latest" {
		for _, run := range runs {
			if run.RunID != meta.RunID {
				return Selection{BaselineRunID: run.RunID, Reason: "fallback_latest", MatchInfo: match}, nil
			}
		}
	}
	return Selection{Reason: "no_pass"}, nil
}
