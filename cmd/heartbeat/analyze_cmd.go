package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/audit"
	"github.com/heartbeat-ops/heartbeat/pkg/baseline"
	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
	"github.com/heartbeat-ops/heartbeat/pkg/store"
)

type analyzeFlags struct {
	runID, registryPath, db string
	policyPath, baselineRun string
	outDir                  string
}

func (f *analyzeFlags) register(cmd *flag.FlagSet) {
	cmd.StringVar(&f.runID, "run-id", "", "Run to analyze (REQUIRED)")
	cmd.StringVar(&f.registryPath, "registry", "", "Metric registry YAML (default HB_METRIC_REGISTRY)")
	cmd.StringVar(&f.db, "db", "", "Run registry database (default HB_REGISTRY_DB)")
	cmd.StringVar(&f.policyPath, "baseline-policy", "", "Baseline policy YAML (default HB_BASELINE_POLICY)")
	cmd.StringVar(&f.baselineRun, "baseline-run", "", "Compare against this run, bypassing selection")
	cmd.StringVar(&f.outDir, "out", "", "Report directory (default reports/<run-id>)")
}

func runAnalyzeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("analyze", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var f analyzeFlags
	f.register(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if f.runID == "" {
		fmt.Fprintln(stderr, "Error: --run-id is required")
		cmd.Usage()
		return 2
	}

	cfg := config.Load()
	reg, hash, err := loadRegistry(f.registryPath, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	st, err := openStore(f.db, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	result, sel, dir, err := analyzeRun(context.Background(), st, reg, hash, f, cfg)
	if err != nil {
		return fail(stderr, err)
	}

	printJSON(stdout, map[string]any{
		"run_id":          f.runID,
		"status":          result.Status,
		"baseline_run_id": sel.BaselineRunID,
		"baseline_reason": sel.Reason,
		"report_dir":      dir,
	})
	return 0
}

// analyzeRun selects a baseline, runs the comparison, persists the verdict,
// and writes the report directory.
func analyzeRun(ctx context.Context, st *store.Store, reg *registry.Registry, registryHash string, f analyzeFlags, cfg *config.Config) (contracts.CompareResult, baseline.Selection, string, error) {
	run, err := st.GetRun(ctx, f.runID)
	if err != nil {
		return contracts.CompareResult{}, baseline.Selection{}, "", err
	}
	if run == nil {
		return contracts.CompareResult{}, baseline.Selection{}, "",
			contracts.Errorf(contracts.KindRegistry, "run %s not found", f.runID)
	}
	current, err := st.FetchMetrics(ctx, f.runID)
	if err != nil {
		return contracts.CompareResult{}, baseline.Selection{}, "", err
	}

	policyPath := f.policyPath
	if policyPath == "" {
		policyPath = cfg.BaselinePolicy
	}
	policy := baseline.DefaultPolicy()
	if policyPath != "" {
		policy, err = baseline.LoadPolicy(policyPath)
		if err != nil {
			return contracts.CompareResult{}, baseline.Selection{}, "", err
		}
	}

	meta := contracts.RunMeta{
		RunID:       run.RunID,
		Program:     run.Program,
		Subsystem:   run.Subsystem,
		TestName:    run.TestName,
		Environment: run.Environment,
		Build:       contracts.BuildInfo{GitSHA: run.BuildSHA, BuildID: run.BuildID},
		StartUTC:    run.StartUTC,
		EndUTC:      run.EndUTC,
	}

	var sel baseline.Selection
	if f.baselineRun != "" {
		sel = baseline.Selection{BaselineRunID: f.baselineRun, Reason: "explicit"}
	} else {
		sel, err = baseline.Select(ctx, st, meta, policy, registryHash)
		if err != nil {
			return contracts.CompareResult{}, baseline.Selection{}, "", err
		}
	}

	var base map[string]contracts.Metric
	if sel.BaselineRunID != "" {
		base, err = st.FetchMetrics(ctx, sel.BaselineRunID)
		if err != nil {
			return contracts.CompareResult{}, baseline.Selection{}, "", err
		}
	}

	result := engine.Compare(current, base, reg, policy.DistributionEnabled)
	if err := st.UpsertRun(ctx, meta, result.Status, sel.BaselineRunID, registryHash); err != nil {
		return contracts.CompareResult{}, baseline.Selection{}, "", err
	}

	dir := f.outDir
	if dir == "" {
		dir = filepath.Join("reports", f.runID)
	}
	if err := writeReportDir(dir, meta, current, base, result, sel, registryHash, policyPath, cfg); err != nil {
		return contracts.CompareResult{}, baseline.Selection{}, "", err
	}
	return result, sel, dir, nil
}

// writeReportDir emits the full report artifact set plus a hash-chained
// audit entry and the manifest (written last so it covers everything).
func writeReportDir(dir string, meta contracts.RunMeta, current, base map[string]contracts.Metric, result contracts.CompareResult, sel baseline.Selection, registryHash, policyPath string, cfg *config.Config) error {
	if err := makeDir(dir); err != nil {
		return err
	}
	rep := report.Build(meta.RunID, result, sel, nil)
	if err := rep.WriteJSON(dir); err != nil {
		return err
	}
	if err := rep.WriteHTML(dir); err != nil {
		return err
	}
	if err := report.WriteMetricsCSV(dir, current); err != nil {
		return err
	}
	if err := report.WriteRunMeta(dir, meta); err != nil {
		return err
	}
	if base != nil {
		if err := report.WriteBaselineSnapshot(dir, base); err != nil {
			return err
		}
	}

	configHashes := map[string]string{evidence.RefMetricRegistry: registryHash}
	if policyPath != "" {
		if h, err := registry.HashFile(policyPath); err == nil {
			configHashes[evidence.RefBaselinePolicy] = h
		}
	}
	rec, err := evidence.BuildRecord(evidence.RecordInputs{
		Result:        result,
		RunID:         meta.RunID,
		BaselineRunID: sel.BaselineRunID,
		CorrelationID: cfg.CorrelationID,
		Reason:        "cli analyze",
		ConfigHashes:  configHashes,
		Now:           time.Now(),
	})
	if err != nil {
		return err
	}
	if err := evidence.WriteRecord(dir, rec); err != nil {
		return err
	}

	log, err := audit.Open(filepath.Join(dir, report.AuditLogJSONL))
	if err != nil {
		return err
	}
	if _, err := log.Append(meta.RunID, "analyze", map[string]any{
		"status":          string(result.Status),
		"baseline_run_id": sel.BaselineRunID,
		"decision_id":     rec.DecisionID,
	}); err != nil {
		return err
	}

	_, err = report.WriteManifest(dir)
	return err
}
