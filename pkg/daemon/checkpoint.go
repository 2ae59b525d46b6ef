package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Checkpoint records the last completed cycle so a restarted daemon can
// report where it left off.
type Checkpoint struct {
	Cycle          int     `json:"cycle"`
	LastDecisionID string  `json:"last_decision_id"`
	LastStatus     string  `json:"last_status"`
	Watermark      float64 `json:"watermark"`
	UpdatedUTC     string  `json:"updated_utc"`
}

// writeCheckpoint rotates the existing checkpoint into numbered history
// slots and writes the new one atomically.
func (d *Daemon) writeCheckpoint(snap contracts.DecisionSnapshot) error {
	cp := Checkpoint{
		Cycle:          d.cycle,
		LastDecisionID: snap.DecisionID,
		LastStatus:     string(snap.Decision.Status),
		Watermark:      snap.InputSlice.Watermark,
		UpdatedUTC:     d.now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "encode checkpoint", err)
	}

	rotateCheckpoints(d.cfg.CheckpointPath, d.cfg.CheckpointHistory)

	tmp := d.cfg.CheckpointPath + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "write checkpoint", err)
	}
	if err := os.Rename(tmp, d.cfg.CheckpointPath); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "replace checkpoint", err)
	}
	return nil
}

// rotateCheckpoints shifts path -> path.1 -> path.2 ... dropping the slot
// past the history cap. Missing files are skipped.
func rotateCheckpoints(path string, history int) {
	os.Remove(fmt.Sprintf("%s.%d", path, history))
	for i := history - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", path, i), fmt.Sprintf("%s.%d", path, i+1))
	}
	if _, err := os.Stat(path); err == nil {
		os.Rename(path, path+".1")
	}
}

// ReadCheckpoint loads a checkpoint file.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, contracts.WrapError(contracts.KindTransientIO, "read checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, contracts.WrapError(contracts.KindParse, "parse checkpoint", err)
	}
	return cp, nil
}
