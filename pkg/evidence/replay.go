package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/baseline"
	"github.com/heartbeat-ops/heartbeat/pkg/canonicalize"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
)

// ReplayResult is a re-executed decision plus the recomputed config refs.
type ReplayResult struct {
	Decision   contracts.CompareResult `json:"decision_payload"`
	ConfigRef  map[string]string       `json:"config_ref"`
	ConfigHash string                  `json:"config_hash"`
}

// Replay reruns the comparison from preserved inputs. The engine is pure,
// so identical inputs always reproduce the original decision.
func Replay(current, base map[string]contracts.Metric, reg *registry.Registry, distributionEnabled bool, configRef map[string]string) (ReplayResult, error) {
	configHash, err := canonicalize.HashMap(configRef)
	if err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{
		Decision:   engine.Compare(current, base, reg, distributionEnabled),
		ConfigRef:  configRef,
		ConfigHash: configHash,
	}, nil
}

// VerifyResult reports the outcome of decision verification.
type VerifyResult struct {
	Verified     bool             `json:"verified"`
	Match        bool             `json:"match"`
	Reason       string           `json:"reason"`
	ReplayStatus contracts.Status `json:"replay_status,omitempty"`
}

// Verify re-executes a decision from its evidence pack. Match means the
// replayed status equals the record's; verified additionally requires the
// recomputed config hash to equal the recorded one. Failures come back as
// results, not errors, so callers can report them.
func Verify(recordPath, evidenceDir string) (VerifyResult, error) {
	rec, err := ReadRecord(recordPath)
	if err != nil {
		return VerifyResult{Reason: "decision record unreadable"}, err
	}

	replayed, err := ReplayDir(evidenceDir)
	if err != nil {
		return VerifyResult{Reason: "replay failed"}, err
	}

	res := VerifyResult{
		Match:        replayed.Decision.Status == rec.Status,
		ReplayStatus: replayed.Decision.Status,
	}
	switch {
	case !res.Match:
		res.Reason = fmt.Sprintf("replayed status %s differs from recorded %s",
			replayed.Decision.Status, rec.Status)
	case replayed.ConfigHash != rec.ConfigHash:
		res.Reason = "config hash mismatch"
	default:
		res.Verified = true
		res.Reason = "deterministic replay matched"
	}
	return res, nil
}

// ReplayDir reruns the comparison from the snapshot artifacts inside an
// evidence directory: normalized metrics CSV, baseline snapshot, and the
// config/ directory holding the registry (and optionally the baseline
// policy, which supplies the distribution toggle).
func ReplayDir(evidenceDir string) (ReplayResult, error) {
	current, err := report.ReadMetricsCSV(filepath.Join(evidenceDir, report.MetricsCSV))
	if err != nil {
		return ReplayResult{}, err
	}
	base, err := readBaselineSnapshot(evidenceDir)
	if err != nil {
		return ReplayResult{}, err
	}

	configDir := filepath.Join(evidenceDir, "config")
	reg, err := registry.Load(filepath.Join(configDir, RefMetricRegistry+".yaml"))
	if err != nil {
		return ReplayResult{}, err
	}

	distributionEnabled := false
	policyPath := filepath.Join(configDir, RefBaselinePolicy+".yaml")
	if _, statErr := os.Stat(policyPath); statErr == nil {
		policy, err := baseline.LoadPolicy(policyPath)
		if err != nil {
			return ReplayResult{}, err
		}
		distributionEnabled = policy.DistributionEnabled
	}

	configRef, err := hashConfigDir(configDir)
	if err != nil {
		return ReplayResult{}, err
	}
	return Replay(current, base, reg, distributionEnabled, configRef)
}

func readBaselineSnapshot(evidenceDir string) (map[string]contracts.Metric, error) {
	data, err := os.ReadFile(filepath.Join(evidenceDir, report.BaselineSnapshot))
	if err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "read baseline snapshot", err)
	}
	var metrics map[string]contracts.Metric
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, contracts.WrapError(contracts.KindParse, "parse baseline snapshot", err)
	}
	return metrics, nil
}

// hashConfigDir fingerprints every config snapshot file, keyed by its base
// name without extension, mirroring the map hashed at decision time.
func hashConfigDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "list config snapshot", err)
	}
	out := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, contracts.WrapError(contracts.KindTransientIO, "read config snapshot", err)
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		out[key] = canonicalize.HashBytes(data)
	}
	return out, nil
}
