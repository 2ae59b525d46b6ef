package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
)

// runVerifyDecisionCmd checks a decision record against its evidence
// directory. Exit 0 only when the replay is fully verified.
func runVerifyDecisionCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-decision", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var recordPath, evidenceDir string
	cmd.StringVar(&recordPath, "record", "", "decision_record.json path (default <evidence>/decision_record.json)")
	cmd.StringVar(&evidenceDir, "evidence", "", "Evidence directory (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if evidenceDir == "" {
		fmt.Fprintln(stderr, "Error: --evidence is required")
		cmd.Usage()
		return 2
	}
	if recordPath == "" {
		recordPath = filepath.Join(evidenceDir, report.DecisionJSON)
	}

	res, err := evidence.Verify(recordPath, evidenceDir)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, res)
	if !res.Verified {
		return 1
	}
	return 0
}
