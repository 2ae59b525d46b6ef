package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
	"github.com/heartbeat-ops/heartbeat/pkg/store"
)

type ingestFlags struct {
	runID, program, subsystem, testName, env string
	buildSHA, buildID, sourceSystem          string
	metricsPath, registryPath, db            string
	start, end                               string
}

func (f *ingestFlags) register(cmd *flag.FlagSet) {
	cmd.StringVar(&f.runID, "run-id", "", "Run identifier (default: random)")
	cmd.StringVar(&f.program, "program", "", "Program name")
	cmd.StringVar(&f.subsystem, "subsystem", "", "Subsystem name")
	cmd.StringVar(&f.testName, "test", "", "Test name")
	cmd.StringVar(&f.env, "env", "", "Environment label")
	cmd.StringVar(&f.buildSHA, "build-sha", "", "Build git SHA")
	cmd.StringVar(&f.buildID, "build-id", "", "Build identifier")
	cmd.StringVar(&f.sourceSystem, "source-system", "", "Originating system")
	cmd.StringVar(&f.metricsPath, "metrics", "", "Metrics file, .json or .csv (REQUIRED)")
	cmd.StringVar(&f.registryPath, "registry", "", "Metric registry YAML (default HB_METRIC_REGISTRY)")
	cmd.StringVar(&f.db, "db", "", "Run registry database (default HB_REGISTRY_DB)")
	cmd.StringVar(&f.start, "start", "", "Run start, RFC3339 (default now)")
	cmd.StringVar(&f.end, "end", "", "Run end, RFC3339 (default now)")
}

func runIngestCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var f ingestFlags
	f.register(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if f.metricsPath == "" {
		fmt.Fprintln(stderr, "Error: --metrics is required")
		cmd.Usage()
		return 2
	}
	if f.runID == "" {
		f.runID = uuid.New().String()
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

	meta, metrics, warnings, err := ingestRun(context.Background(), st, reg, hash, f, cfg)
	if err != nil {
		return fail(stderr, err)
	}

	printJSON(stdout, map[string]any{
		"run_id":   meta.RunID,
		"metrics":  len(metrics),
		"warnings": warnings,
	})
	return 0
}

// ingestRun normalizes the metrics file and stores the run. Re-ingesting the
// same run id replaces its metrics atomically.
func ingestRun(ctx context.Context, st *store.Store, reg *registry.Registry, registryHash string, f ingestFlags, cfg *config.Config) (contracts.RunMeta, map[string]contracts.Metric, []string, error) {
	start, err := parseTimeFlag(f.start)
	if err != nil {
		return contracts.RunMeta{}, nil, nil, err
	}
	end, err := parseTimeFlag(f.end)
	if err != nil {
		return contracts.RunMeta{}, nil, nil, err
	}

	raw, err := readRawMetrics(f.metricsPath)
	if err != nil {
		return contracts.RunMeta{}, nil, nil, err
	}
	metrics, warnings := engine.NormalizeMetrics(raw, reg)

	meta := contracts.RunMeta{
		RunID:         f.runID,
		Program:       f.program,
		Subsystem:     f.subsystem,
		TestName:      f.testName,
		Environment:   f.env,
		Build:         contracts.BuildInfo{GitSHA: f.buildSHA, BuildID: f.buildID},
		StartUTC:      start,
		EndUTC:        end,
		SourceSystem:  f.sourceSystem,
		CorrelationID: cfg.CorrelationID,
	}
	if err := st.UpsertRun(ctx, meta, contracts.StatusNoTest, "", registryHash); err != nil {
		return contracts.RunMeta{}, nil, nil, err
	}
	list := make([]contracts.Metric, 0, len(metrics))
	for _, m := range metrics {
		list = append(list, m)
	}
	if err := st.ReplaceMetrics(ctx, meta.RunID, list); err != nil {
		return contracts.RunMeta{}, nil, nil, err
	}
	return meta, metrics, warnings, nil
}

// readRawMetrics loads a metrics file. JSON values may be numbers, numeric
// strings, or {value, unit, tags} objects; CSV follows the normalized
// metrics layout.
func readRawMetrics(path string) (map[string]engine.RawMetric, error) {
	if filepath.Ext(path) == ".csv" {
		metrics, err := report.ReadMetricsCSV(path)
		if err != nil {
			return nil, err
		}
		raw := make(map[string]engine.RawMetric, len(metrics))
		for name, m := range metrics {
			var value any
			if m.Value != nil {
				value = *m.Value
			}
			raw[name] = engine.RawMetric{Value: value, Unit: m.Unit, Tags: m.Tags}
		}
		return raw, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "read metrics file", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, contracts.WrapError(contracts.KindParse, "parse metrics file", err)
	}

	raw := make(map[string]engine.RawMetric, len(doc))
	for name, v := range doc {
		if obj, ok := v.(map[string]any); ok {
			rm := engine.RawMetric{Value: obj["value"]}
			if u, ok := obj["unit"].(string); ok {
				rm.Unit = u
			}
			if tags, ok := obj["tags"].(map[string]any); ok {
				rm.Tags = tags
			}
			raw[name] = rm
			continue
		}
		raw[name] = engine.RawMetric{Value: v}
	}
	return raw, nil
}

func parseTimeFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, contracts.WrapError(contracts.KindParse, "parse time flag", err)
	}
	return t.UTC(), nil
}
