package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
)

// runExportPackCmd builds an evidence pack from a report directory.
func runExportPackCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export evidence-pack", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		caseID, reportDir, outDir string
		registryPath, policyPath  string
		rawSlice, redact          string
		zipPack                   bool
	)
	cmd.StringVar(&caseID, "case", "", "Case identifier (REQUIRED)")
	cmd.StringVar(&reportDir, "report-dir", "", "Source report directory (REQUIRED)")
	cmd.StringVar(&outDir, "out", ".", "Parent directory for the pack")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML to snapshot (default HB_METRIC_REGISTRY)")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML to snapshot (default HB_BASELINE_POLICY)")
	cmd.StringVar(&rawSlice, "raw", "", "Raw telemetry slice to include")
	cmd.StringVar(&redact, "redact", "", "Redaction profile: standard or strict")
	cmd.BoolVar(&zipPack, "zip", false, "Archive the pack as a zip")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if caseID == "" || reportDir == "" {
		fmt.Fprintln(stderr, "Error: --case and --report-dir are required")
		cmd.Usage()
		return 2
	}

	cfg := config.Load()
	if registryPath == "" {
		registryPath = cfg.MetricRegistry
	}
	if policyPath == "" {
		policyPath = cfg.BaselinePolicy
	}

	configPaths := map[string]string{}
	if registryPath != "" {
		configPaths[evidence.RefMetricRegistry] = registryPath
	}
	if policyPath != "" {
		configPaths[evidence.RefBaselinePolicy] = policyPath
	}

	path, err := evidence.Pack(evidence.PackOptions{
		CaseID:       caseID,
		ReportDir:    reportDir,
		OutParent:    outDir,
		ConfigPaths:  configPaths,
		RawSlicePath: rawSlice,
		Redaction:    evidence.Profile(redact),
		CodeVersion:  cfg.Version,
		Zip:          zipPack,
		Now:          time.Now(),
	})
	if err != nil {
		return fail(stderr, err)
	}

	if cfg.RejectPlaintextSecrets && !zipPack {
		if err := evidence.RejectPlaintextSecrets(path); err != nil {
			return fail(stderr, err)
		}
	}

	printJSON(stdout, map[string]any{"case_id": caseID, "pack": path})
	return 0
}
