package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/heartbeat-ops/heartbeat/pkg/actions"
	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/daemon"
	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
	"github.com/heartbeat-ops/heartbeat/pkg/ingest"
	"github.com/heartbeat-ops/heartbeat/pkg/observability"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/sinks"
	"github.com/heartbeat-ops/heartbeat/pkg/streaming"
)

//nolint:gocognit
func runDaemonCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("daemon", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		systemID     string
		sourceType   string
		sourcePath   string
		sourceAddr   string
		brokerURL    string
		brokers      string
		topic        string
		registryPath string
		policyPath   string
		actionPolicy string
		dryRun       bool
		actionSLO    float64
		db           string
		reportsDir   string
		baselineTag  string
		baselineRun  string
		interval     float64
		windowSec    float64
		slideSec     float64
		lateness     float64
		latePolicy   string
		maxBytes     int64
		evidenceOn   bool
		otlpEndpoint string
		sinkSpecs    sinkFlag
	)
	cmd.StringVar(&systemID, "system-id", "heartbeat", "System identifier stamped on alerts")
	cmd.StringVar(&sourceType, "source", "file", "Ingest source: file, syslog, mqtt, kafka")
	cmd.StringVar(&sourcePath, "source-path", "", "Event file for the file source")
	cmd.StringVar(&sourceAddr, "source-addr", "", "Listen address for the syslog source")
	cmd.StringVar(&brokerURL, "broker", "", "MQTT broker URL")
	cmd.StringVar(&brokers, "brokers", "", "Kafka brokers, comma separated")
	cmd.StringVar(&topic, "topic", "", "MQTT/Kafka topic")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML (default HB_METRIC_REGISTRY)")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML (default HB_BASELINE_POLICY)")
	cmd.StringVar(&actionPolicy, "action-policy", "", "Action policy YAML (default HB_ACTION_POLICY)")
	cmd.BoolVar(&dryRun, "dry-run-actions", false, "Record proposed actions without creating pending rows")
	cmd.Float64Var(&actionSLO, "action-slo", 0, "Decision latency budget in seconds for the action gates (0 = off)")
	cmd.StringVar(&db, "db", "", "Run registry database (default HB_REGISTRY_DB)")
	cmd.StringVar(&reportsDir, "reports", "reports", "Report output directory")
	cmd.StringVar(&baselineTag, "baseline-tag", "", "Baseline tag to evaluate against")
	cmd.StringVar(&baselineRun, "baseline-run", "", "Baseline run id to evaluate against")
	cmd.Float64Var(&interval, "interval", 10, "Seconds between evaluation cycles")
	cmd.Float64Var(&windowSec, "window", 60, "Window size in seconds")
	cmd.Float64Var(&slideSec, "slide", 0, "Window slide in seconds (0 = tumbling)")
	cmd.Float64Var(&lateness, "allowed-lateness", 0, "Allowed event lateness in seconds")
	cmd.StringVar(&latePolicy, "late-policy", "drop", "Late event policy: drop, buffer, side_output")
	cmd.Int64Var(&maxBytes, "max-report-bytes", 0, "Total report dir size cap (0 = unlimited)")
	cmd.BoolVar(&evidenceOn, "evidence-on-fail", false, "Build an evidence pack on FAIL")
	cmd.StringVar(&otlpEndpoint, "otlp", "", "OTLP gRPC endpoint for traces and metrics")
	cmd.Var(&sinkSpecs, "sink", "Alert sink: stdout, file:<path>, webhook:<url> (repeatable)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	reg, hash, err := loadRegistry(registryPath, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	st, err := openStore(db, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()
	ctx := context.Background()

	// Resolve the baseline snapshot up front; the daemon evaluates every
	// window against it.
	if baselineRun == "" && baselineTag != "" {
		tag, err := st.GetTag(ctx, baselineTag)
		if err != nil {
			return fail(stderr, err)
		}
		if tag == nil {
			return fail(stderr, contracts.Errorf(contracts.KindConfig, "baseline tag %q not found", baselineTag))
		}
		baselineRun = tag.RunID
	}
	if baselineRun == "" {
		return fail(stderr, contracts.NewError(contracts.KindConfig,
			"a baseline is required (--baseline-run or --baseline-tag)"))
	}
	base, err := st.FetchMetrics(ctx, baselineRun)
	if err != nil {
		return fail(stderr, err)
	}

	dcfg := daemon.Config{
		SystemID:        systemID,
		IntervalSec:     interval,
		ReportsDir:      reportsDir,
		MaxReportsBytes: maxBytes,
		EvidenceOnFail:  evidenceOn,
		DryRunActions:   dryRun,
		ActionSLOSec:    actionSLO,
		Streaming: streaming.Config{
			Window:             streaming.WindowSpec{WindowSizeSec: windowSec, SlideSec: slideSec},
			AllowedLatenessSec: lateness,
			LatePolicy:         streaming.LatePolicy(latePolicy),
			Deterministic:      cfg.Deterministic,
		},
		Source: ingest.Spec{
			Type:      sourceType,
			Path:      sourcePath,
			Addr:      sourceAddr,
			BrokerURL: brokerURL,
			Topic:     topic,
			Brokers:   splitNonEmpty(brokers),
		},
		ConfigPaths: map[string]string{},
	}
	if cfg.MetricRegistry != "" || registryPath != "" {
		p := registryPath
		if p == "" {
			p = cfg.MetricRegistry
		}
		dcfg.ConfigPaths[evidence.RefMetricRegistry] = p
	}
	if policyPath == "" {
		policyPath = cfg.BaselinePolicy
	}
	if policyPath != "" {
		dcfg.ConfigPaths[evidence.RefBaselinePolicy] = policyPath
	}
	if actionPolicy == "" {
		actionPolicy = cfg.ActionPolicy
	}
	if actionPolicy != "" {
		dcfg.ConfigPaths[evidence.RefActionPolicy] = actionPolicy
	}
	for _, s := range sinkSpecs {
		spec, err := parseSinkSpec(s)
		if err != nil {
			return fail(stderr, err)
		}
		dcfg.Sinks = append(dcfg.Sinks, spec)
	}

	var opts []daemon.Option
	if actionPolicy != "" {
		policy, err := actions.LoadPolicy(actionPolicy)
		if err != nil {
			return fail(stderr, err)
		}
		eng, err := actions.New(policy)
		if err != nil {
			return fail(stderr, err)
		}
		opts = append(opts, daemon.WithActionEngine(eng, st))
	}
	if otlpEndpoint != "" {
		ocfg := observability.DefaultConfig()
		ocfg.OTLPEndpoint = otlpEndpoint
		ocfg.Enabled = true
		ocfg.Insecure = true
		if cfg.Version != "" {
			ocfg.ServiceVersion = cfg.Version
		}
		obs, err := observability.New(ctx, ocfg)
		if err != nil {
			return fail(stderr, err)
		}
		defer obs.Shutdown(ctx)
		opts = append(opts, daemon.WithObservability(obs))
	}

	// The recorded config hashes must cover exactly the files snapshotted
	// into evidence packs, or verification reports a mismatch.
	configRef := map[string]string{evidence.RefMetricRegistry: hash}
	for key, p := range dcfg.ConfigPaths {
		if key == evidence.RefMetricRegistry {
			continue
		}
		h, err := registry.HashFile(p)
		if err != nil {
			return fail(stderr, err)
		}
		configRef[key] = h
	}

	d, err := daemon.New(dcfg, reg, base, configRef, opts...)
	if err != nil {
		return fail(stderr, err)
	}

	validator := ingest.DefaultValidator()
	if cfg.TelemetrySchema != "" {
		validator, err = ingest.NewValidator(cfg.TelemetrySchema)
		if err != nil {
			return fail(stderr, err)
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "daemon: source=%s interval=%.0fs baseline=%s\n", sourceType, interval, baselineRun)
	if err := d.Run(runCtx, validator); err != nil {
		if contracts.KindOf(err) == contracts.KindCancelled {
			fmt.Fprintln(stdout, "daemon: shutting down")
			return 0
		}
		return fail(stderr, err)
	}
	return 0
}

// parseSinkSpec translates a --sink flag value into a sink spec.
func parseSinkSpec(v string) (sinks.Spec, error) {
	switch {
	case v == "stdout":
		return sinks.Spec{Type: "stdout"}, nil
	case strings.HasPrefix(v, "file:"):
		return sinks.Spec{Type: "file", Path: strings.TrimPrefix(v, "file:")}, nil
	case strings.HasPrefix(v, "webhook:"):
		return sinks.Spec{Type: "webhook", URL: strings.TrimPrefix(v, "webhook:")}, nil
	}
	return sinks.Spec{}, contracts.Errorf(contracts.KindConfig, "unknown sink spec %q", v)
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
