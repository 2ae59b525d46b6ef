package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
)

// runReplayCmd re-executes a decision from an evidence directory and prints
// the replayed result.
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var evidenceDir string
	cmd.StringVar(&evidenceDir, "evidence", "", "Evidence directory (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if evidenceDir == "" {
		fmt.Fprintln(stderr, "Error: --evidence is required")
		cmd.Usage()
		return 2
	}

	replayed, err := evidence.ReplayDir(evidenceDir)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, replayed)
	return 0
}
