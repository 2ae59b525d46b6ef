package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/heartbeat-ops/heartbeat/pkg/audit"
	"github.com/heartbeat-ops/heartbeat/pkg/daemon"
)

// runRuntimeCmd reports daemon runtime state from its on-disk artifacts:
// the latest checkpoint and the audit chain.
func runRuntimeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("runtime", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var reportsDir, auditPath string
	cmd.StringVar(&reportsDir, "reports", "reports", "Daemon report directory")
	cmd.StringVar(&auditPath, "audit", "", "Audit log to verify")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	out := map[string]any{}

	cpPath := filepath.Join(reportsDir, "checkpoint.json")
	if cp, err := daemon.ReadCheckpoint(cpPath); err == nil {
		out["checkpoint"] = cp
	} else if os.IsNotExist(errCause(err)) {
		out["checkpoint"] = nil
	} else {
		return fail(stderr, err)
	}

	broken := false
	if auditPath != "" {
		ok, idx, err := audit.VerifyFile(auditPath)
		if err != nil && !ok {
			out["audit"] = map[string]any{"ok": false, "broken_index": idx, "error": err.Error()}
			broken = true
		} else {
			out["audit"] = map[string]any{"ok": ok, "broken_index": idx}
			broken = !ok
		}
	}

	printJSON(stdout, out)
	if broken {
		return 1
	}
	return 0
}

// errCause unwraps to the innermost error for os.IsNotExist checks.
func errCause(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}
