// Package daemon runs the long-lived control loop: ingest events, evaluate
// windows on an interval, write report directories, push alerts, and keep
// checkpoints, bounded by a circuit breaker and a disk cap.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/actions"
	"github.com/heartbeat-ops/heartbeat/pkg/baseline"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
	"github.com/heartbeat-ops/heartbeat/pkg/evidence"
	"github.com/heartbeat-ops/heartbeat/pkg/ingest"
	"github.com/heartbeat-ops/heartbeat/pkg/observability"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/report"
	"github.com/heartbeat-ops/heartbeat/pkg/resiliency"
	"github.com/heartbeat-ops/heartbeat/pkg/sinks"
	"github.com/heartbeat-ops/heartbeat/pkg/streaming"
)

// BreakerConfig parameterizes the cycle circuit breaker.
type BreakerConfig struct {
	FailureThreshold int     `yaml:"failure_threshold" json:"failure_threshold"`
	WindowSec        float64 `yaml:"window_sec" json:"window_sec"`
	OpenSec          float64 `yaml:"open_sec" json:"open_sec"`
}

// Config is the daemon configuration.
type Config struct {
	SystemID    string  `yaml:"system_id" json:"system_id"`
	IntervalSec float64 `yaml:"interval_sec" json:"interval_sec"`
	ReportsDir  string  `yaml:"reports_dir" json:"reports_dir"`
	// MaxReportsBytes caps total report dir usage; 0 disables pruning.
	MaxReportsBytes   int64            `yaml:"max_reports_bytes" json:"max_reports_bytes"`
	CheckpointPath    string           `yaml:"checkpoint_path" json:"checkpoint_path"`
	CheckpointHistory int              `yaml:"checkpoint_history" json:"checkpoint_history"`
	EvidenceOnFail    bool             `yaml:"evidence_on_fail" json:"evidence_on_fail"`
	// DryRunActions records proposed actions without creating pending rows.
	DryRunActions bool `yaml:"dry_run_actions" json:"dry_run_actions"`
	// ActionSLOSec is the decision latency budget consulted by the action
	// gates; 0 disables the timing gate.
	ActionSLOSec float64 `yaml:"action_slo_sec" json:"action_slo_sec"`
	// BaselineConfidence is the quality score of the resolved baseline,
	// fed to the action gates. Zero means unscored (treated as 1.0).
	BaselineConfidence float64       `yaml:"baseline_confidence" json:"baseline_confidence"`
	Breaker            BreakerConfig `yaml:"breaker" json:"breaker"`
	Streaming         streaming.Config `yaml:"streaming" json:"streaming"`
	Source            ingest.Spec      `yaml:"source" json:"source"`
	Sinks             []sinks.Spec     `yaml:"sinks" json:"sinks"`
	// ConfigPaths feeds the evidence pack's config snapshot.
	ConfigPaths map[string]string `yaml:"config_paths,omitempty" json:"config_paths,omitempty"`
}

// Daemon owns the control loop state. The window is mutated only by the
// loop goroutine; ingest drivers feed it through a channel.
type Daemon struct {
	cfg       Config
	reg       *registry.Registry
	baseline  map[string]contracts.Metric
	configRef map[string]string
	evaluator *streaming.Evaluator
	fanout    sinks.Fanout
	breaker   *resiliency.CircuitBreaker
	obs       *observability.Provider
	actions   *actions.Engine
	ledger    actions.Ledger
	logger    *slog.Logger
	now       func() time.Time
	cycle     int
	// persistence counts consecutive non-PASS cycles for the action gates.
	persistence int
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithObservability installs the telemetry provider.
func WithObservability(obs *observability.Provider) Option {
	return func(d *Daemon) { d.obs = obs }
}

// WithActionEngine enables the action engine: every emitted decision is
// evaluated against the action policy and executed into the ledger.
func WithActionEngine(eng *actions.Engine, ledger actions.Ledger) Option {
	return func(d *Daemon) {
		d.actions = eng
		d.ledger = ledger
	}
}

// New builds a daemon over a loaded registry and baseline snapshot.
func New(cfg Config, reg *registry.Registry, base map[string]contracts.Metric, configRef map[string]string, opts ...Option) (*Daemon, error) {
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = 10
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.WindowSec <= 0 {
		cfg.Breaker.WindowSec = 60
	}
	if cfg.Breaker.OpenSec <= 0 {
		cfg.Breaker.OpenSec = 30
	}
	if cfg.CheckpointHistory <= 0 {
		cfg.CheckpointHistory = 3
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = filepath.Join(cfg.ReportsDir, "checkpoint.json")
	}
	if err := os.MkdirAll(cfg.ReportsDir, 0o755); err != nil {
		return nil, contracts.WrapError(contracts.KindTransientIO, "create reports dir", err)
	}

	var fanout sinks.Fanout
	for _, spec := range cfg.Sinks {
		s, err := sinks.Build(spec)
		if err != nil {
			return nil, err
		}
		fanout.Sinks = append(fanout.Sinks, s)
	}

	d := &Daemon{
		cfg:       cfg,
		reg:       reg,
		baseline:  base,
		configRef: configRef,
		fanout:    fanout,
		breaker: resiliency.NewCircuitBreaker("daemon",
			cfg.Breaker.FailureThreshold,
			time.Duration(cfg.Breaker.WindowSec*float64(time.Second)),
			time.Duration(cfg.Breaker.OpenSec*float64(time.Second))),
		logger: slog.Default().With("component", "daemon"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.evaluator = streaming.New(cfg.Streaming, reg,
		streaming.WithClock(d.now), streaming.WithLogger(d.logger))
	d.breaker.WithClock(d.now)
	return d, nil
}

// Ingest feeds one event into the window. Called only from the loop
// goroutine (Run) or from tests.
func (d *Daemon) Ingest(e contracts.Event) { d.evaluator.Ingest(e) }

// Run consumes the configured source and evaluates every interval until
// the context is cancelled or the source ends.
func (d *Daemon) Run(ctx context.Context, validator *ingest.Validator) error {
	source, err := ingest.Build(d.cfg.Source, validator)
	if err != nil {
		return err
	}
	if err := source.Connect(ctx); err != nil {
		return err
	}
	defer source.Close()

	events := make(chan contracts.Event, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			e, err := source.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(d.cfg.IntervalSec * float64(time.Second)))
	defer ticker.Stop()

	drained := false
	for {
		select {
		case <-ctx.Done():
			return contracts.WrapError(contracts.KindCancelled, "daemon loop", ctx.Err())
		case e, ok := <-events:
			if !ok {
				if drained {
					continue
				}
				drained = true
				// Source ended (file replay): evaluate once more and stop.
				if err := d.RunCycle(ctx); err != nil {
					d.logger.Error("final cycle failed", "error", err)
				}
				select {
				case err := <-readErr:
					if err != io.EOF && contracts.KindOf(err) != contracts.KindCancelled {
						return err
					}
				default:
				}
				return nil
			}
			d.Ingest(e)
		case <-ticker.C:
			if err := d.RunCycle(ctx); err != nil {
				d.logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// RunCycle performs one evaluation cycle behind the circuit breaker.
func (d *Daemon) RunCycle(ctx context.Context) error {
	if !d.breaker.Allow() {
		d.logger.Warn("cycle skipped", "breaker", d.breaker.State())
		return nil
	}
	err := d.cycle0(ctx)
	if err != nil {
		d.breaker.Failure()
		if d.obs != nil {
			d.obs.RecordCycle(ctx, false)
		}
		return err
	}
	d.breaker.Success()
	if d.obs != nil {
		d.obs.RecordCycle(ctx, true)
	}
	return nil
}

func (d *Daemon) cycle0(ctx context.Context) error {
	snap, ok := d.evaluator.EmitDecision(d.baseline, d.configRef)
	if !ok {
		d.logger.Debug("no window to evaluate")
		return nil
	}
	d.cycle++

	dirName := fmt.Sprintf("daemon_%s_%d",
		d.now().UTC().Format("20060102T150405Z"), d.cycle)
	dir := filepath.Join(d.cfg.ReportsDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create report dir", err)
	}

	runID := snap.DecisionID
	result := snap.Decision
	if result.Status == contracts.StatusPass {
		d.persistence = 0
	} else {
		d.persistence++
	}

	rep := report.Build(runID, result, baseline.Selection{Reason: "daemon_snapshot"}, nil)
	if err := rep.WriteJSON(dir); err != nil {
		return err
	}
	if err := rep.WriteHTML(dir); err != nil {
		return err
	}

	inputs := evidence.RecordInputs{
		Result:       result,
		RunID:        runID,
		Reason:       "scheduled window evaluation",
		ConfigHashes: d.configRef,
		Now:          d.now(),
	}
	if d.actions != nil {
		if err := d.applyActions(ctx, snap, result, &inputs); err != nil {
			return err
		}
	}
	rec, err := evidence.BuildRecord(inputs)
	if err != nil {
		return err
	}
	if err := evidence.WriteRecord(dir, rec); err != nil {
		return err
	}
	if _, err := report.WriteManifest(dir); err != nil {
		return err
	}

	severity := engine.MapSeverity(result, d.reg)
	event := contracts.HBEvent{
		Type:       contracts.HBDecisionSnapshot,
		Timestamp:  snap.TsUTC,
		SystemID:   d.cfg.SystemID,
		Status:     result.Status,
		Severity:   severity,
		DecisionID: snap.DecisionID,
	}
	if failures := d.fanout.Emit(ctx, event); failures != nil {
		for name, ferr := range failures {
			d.logger.Warn("sink delivery failed", "sink", name, "error", ferr)
			if d.obs != nil {
				d.obs.RecordSinkFailure(ctx, name)
			}
		}
	}
	if d.obs != nil {
		d.obs.RecordDecision(ctx, result.Status, snap.DecisionLatencySec)
	}

	if d.cfg.EvidenceOnFail && result.Status == contracts.StatusFail {
		if _, err := evidence.Pack(evidence.PackOptions{
			CaseID:          snap.DecisionID,
			ReportDir:       dir,
			OutParent:       d.cfg.ReportsDir,
			ConfigPaths:     d.cfg.ConfigPaths,
			BaselineMetrics: d.baseline,
			Now:             d.now(),
		}); err != nil {
			d.logger.Error("evidence pack failed", "error", err)
		}
	}

	if err := d.writeCheckpoint(snap); err != nil {
		return err
	}
	if err := d.prune(); err != nil {
		d.logger.Warn("report pruning failed", "error", err)
	}

	d.logger.Info("cycle complete",
		"cycle", d.cycle,
		"decision_id", snap.DecisionID,
		"status", string(result.Status),
		"report_dir", dirName)
	return nil
}

// applyActions runs the decision through the action engine: propose, gate,
// and execute into the ledger. Blocked, dry-run, and idempotent-skip entries
// are normal outcomes. Requested/allowed verdicts are folded into the
// decision record inputs, and pending rows are announced on the sinks.
func (d *Daemon) applyActions(ctx context.Context, snap contracts.DecisionSnapshot, result contracts.CompareResult, inputs *evidence.RecordInputs) error {
	ectx := d.evalContext(snap, result)
	proposals := d.actions.Propose(ectx)
	if len(proposals) == 0 {
		return nil
	}
	entries, err := d.actions.Execute(ctx, d.ledger, proposals, ectx, d.cfg.DryRunActions, snap.DecisionID)
	if err != nil {
		return err
	}

	inputs.PolicyVersion = d.actions.PolicyVersion()
	inputs.Confidence = &ectx.Confidence
	inputs.BaselineConfidence = &ectx.BaselineConfidence
	for _, p := range proposals {
		if inputs.ActionRequested == "" {
			inputs.ActionRequested = string(p.ActionType)
		}
		if p.WouldExecute {
			inputs.ActionRequested = string(p.ActionType)
			inputs.ActionAllowed = true
			break
		}
	}

	for _, entry := range entries {
		switch entry.Status {
		case contracts.LedgerPending, contracts.LedgerDryRun:
			allowed := true
			if failures := d.fanout.Emit(ctx, contracts.HBEvent{
				Type:          contracts.HBActionRequest,
				Timestamp:     snap.TsUTC,
				SystemID:      d.cfg.SystemID,
				Status:        result.Status,
				DecisionID:    snap.DecisionID,
				ActionAllowed: &allowed,
				Payload: map[string]any{
					"action_id":   entry.ActionID,
					"action_type": string(entry.ActionType),
					"dry_run":     entry.DryRun,
				},
			}); failures != nil {
				for name, ferr := range failures {
					d.logger.Warn("sink delivery failed", "sink", name, "error", ferr)
				}
			}
		case contracts.LedgerBlocked:
			d.logger.Info("action blocked",
				"action", string(entry.ActionType),
				"decision_id", snap.DecisionID)
		case contracts.LedgerIdempotentSkip:
			d.logger.Debug("action already ledgered",
				"action", string(entry.ActionType),
				"action_id", entry.ActionID)
		}
	}
	return nil
}

// evalContext derives the action engine's view of one decision cycle.
func (d *Daemon) evalContext(snap contracts.DecisionSnapshot, result contracts.CompareResult) actions.EvalContext {
	values := map[string]float64{}
	flagged := map[string]bool{}
	for _, m := range result.DriftMetrics {
		values[m.Metric] = m.Current
		flagged[m.Metric] = true
	}
	for _, v := range result.InvariantViolations {
		values[v.Metric] = v.Value
		flagged[v.Metric] = true
	}
	for _, name := range result.FailMetrics {
		flagged[name] = true
	}

	// Independent trigger kinds: threshold failures, invariant violations,
	// and distribution drifts each count once.
	conditions := 0
	if len(result.FailMetrics) > 0 {
		conditions++
	}
	if len(result.InvariantViolations) > 0 {
		conditions++
	}
	if len(result.DistributionDrifts) > 0 {
		conditions++
	}

	baseConf := d.cfg.BaselineConfidence
	if baseConf == 0 {
		baseConf = 1
	}
	sloMet := true
	if d.cfg.ActionSLOSec > 0 {
		sloMet = snap.DecisionLatencySec <= d.cfg.ActionSLOSec
	}
	return actions.EvalContext{
		Status:                result.Status,
		Confidence:            attributionConfidence(result.Attribution),
		BaselineConfidence:    baseConf,
		FlaggedMetrics:        len(flagged),
		PersistenceCycles:     d.persistence,
		IndependentConditions: conditions,
		TimingSLOMet:          sloMet,
		Values:                values,
		RunID:                 snap.DecisionID,
		DecisionID:            snap.DecisionID,
	}
}

// attributionConfidence folds the per-metric attribution confidence labels
// into one score: the weakest label wins, and no attribution means 1.0.
func attributionConfidence(attrs []contracts.Attribution) float64 {
	conf := 1.0
	for _, a := range attrs {
		var v float64
		switch a.Confidence {
		case "high", "":
			v = 1.0
		case "medium":
			v = 0.7
		default: // "low"
			v = 0.4
		}
		if v < conf {
			conf = v
		}
	}
	return conf
}

// Breaker exposes breaker state for the runtime status command.
func (d *Daemon) Breaker() *resiliency.CircuitBreaker { return d.breaker }

// Latency exposes the decision latency recorder.
func (d *Daemon) Latency() *streaming.LatencyRecorder { return d.evaluator.Latency() }
