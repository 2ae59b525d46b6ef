package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
)

// runRunCmd is ingest + analyze in a single invocation.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var inf ingestFlags
	inf.register(cmd)
	var (
		policyPath, baselineRun, outDir string
	)
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML (default HB_BASELINE_POLICY)")
	cmd.StringVar(&baselineRun, "baseline-run", "", "Compare against this run, bypassing selection")
	cmd.StringVar(&outDir, "out", "", "Report directory (default reports/<run-id>)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if inf.metricsPath == "" {
		fmt.Fprintln(stderr, "Error: --metrics is required")
		cmd.Usage()
		return 2
	}
	if inf.runID == "" {
		inf.runID = uuid.New().String()
	}

	cfg := config.Load()
	reg, hash, err := loadRegistry(inf.registryPath, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	st, err := openStore(inf.db, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	ctx := context.Background()
	meta, metrics, warnings, err := ingestRun(ctx, st, reg, hash, inf, cfg)
	if err != nil {
		return fail(stderr, err)
	}

	af := analyzeFlags{
		runID:       meta.RunID,
		policyPath:  policyPath,
		baselineRun: baselineRun,
		outDir:      outDir,
	}
	result, sel, dir, err := analyzeRun(ctx, st, reg, hash, af, cfg)
	if err != nil {
		return fail(stderr, err)
	}

	printJSON(stdout, map[string]any{
		"run_id":          meta.RunID,
		"metrics":         len(metrics),
		"warnings":        warnings,
		"status":          result.Status,
		"baseline_run_id": sel.BaselineRunID,
		"baseline_reason": sel.Reason,
		"report_dir":      dir,
	})
	return 0
}
