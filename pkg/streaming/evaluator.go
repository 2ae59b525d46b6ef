package streaming

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/heartbeat-ops/heartbeat/pkg/canonicalize"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/engine"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
)

// LatePolicy decides what happens to events older than the watermark.
type LatePolicy string

const (
	LateDrop       LatePolicy = "drop"
	LateBuffer     LatePolicy = "buffer"
	LateSideOutput LatePolicy = "side_output"
)

const sideOutputCapacity = 256

// Config parameterizes the streaming evaluator.
type Config struct {
	Window              WindowSpec `yaml:"window" json:"window"`
	AllowedLatenessSec  float64    `yaml:"allowed_lateness_sec" json:"allowed_lateness_sec"`
	WatermarkInterval   float64    `yaml:"watermark_interval_sec" json:"watermark_interval_sec"`
	LatePolicy          LatePolicy `yaml:"late_event_policy" json:"late_event_policy"`
	MaxBuckets          int        `yaml:"max_buckets" json:"max_buckets"`
	DistributionEnabled bool       `yaml:"distribution_enabled" json:"distribution_enabled"`
	Deterministic       bool       `yaml:"deterministic" json:"deterministic"`
}

type bucket struct {
	start, end float64
	values     map[string][]float64
	units      map[string]string
}

// Evaluator accumulates events into sliding windows and turns the newest
// closed window into a decision snapshot on demand. It is mutated by a
// single consumer task and is not safe for concurrent use.
type Evaluator struct {
	cfg    Config
	reg    *registry.Registry
	logger *slog.Logger
	now    func() time.Time

	buckets      map[float64]*bucket
	maxEventTime float64
	sawEvent     bool
	buffered     []contracts.Event
	side         chan contracts.Event
	latency      *LatencyRecorder

	dropped int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the wall clock, for tests and deterministic runs.
func WithClock(now func() time.Time) Option {
	return func(ev *Evaluator) { ev.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ev *Evaluator) { ev.logger = logger }
}

// New builds an evaluator over a loaded metric registry.
func New(cfg Config, reg *registry.Registry, opts ...Option) *Evaluator {
	cfg.Window = cfg.Window.Normalize()
	if cfg.LatePolicy == "" {
		cfg.LatePolicy = LateDrop
	}
	ev := &Evaluator{
		cfg:     cfg,
		reg:     reg,
		logger:  slog.Default().With("component", "streaming"),
		now:     time.Now,
		buckets: map[float64]*bucket{},
		side:    make(chan contracts.Event, sideOutputCapacity),
		latency: NewLatencyRecorder(0),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// SideOutput exposes late events routed by the side_output policy.
func (ev *Evaluator) SideOutput() <-chan contracts.Event { return ev.side }

// Latency returns the decision latency recorder.
func (ev *Evaluator) Latency() *LatencyRecorder { return ev.latency }

// Watermark is max observed event time minus allowed lateness. Zero until
// the first event arrives.
func (ev *Evaluator) Watermark() float64 {
	if !ev.sawEvent {
		return 0
	}
	return ev.maxEventTime - ev.cfg.AllowedLatenessSec
}

// Ingest routes one event: into every covering bucket when on time, or per
// the late policy when older than the watermark. Events without an event
// time fall back to processing time.
func (ev *Evaluator) Ingest(e contracts.Event) {
	if e.EventTime == 0 {
		e.EventTime = float64(ev.now().UnixNano()) / 1e9
	}
	if ev.sawEvent && e.EventTime < ev.Watermark() {
		switch ev.cfg.LatePolicy {
		case LateBuffer:
			ev.buffered = append(ev.buffered, e)
		case LateSideOutput:
			select {
			case ev.side <- e:
			default:
				ev.dropped++
			}
		default:
			ev.dropped++
		}
		return
	}
	if e.EventTime > ev.maxEventTime || !ev.sawEvent {
		ev.maxEventTime = e.EventTime
	}
	ev.sawEvent = true
	ev.insert(e)
}

func (ev *Evaluator) insert(e contracts.Event) {
	name := e.Metric
	if canonical, ok := ev.reg.ResolveAlias(e.Metric); ok {
		name = canonical
	}
	for _, start := range ev.cfg.Window.Starts(e.EventTime) {
		b, ok := ev.buckets[start]
		if !ok {
			b = &bucket{
				start:  start,
				end:    start + ev.cfg.Window.WindowSizeSec,
				values: map[string][]float64{},
				units:  map[string]string{},
			}
			ev.buckets[start] = b
			ev.evict()
		}
		b.values[name] = append(b.values[name], e.Value)
		if e.Unit != "" {
			b.units[name] = e.Unit
		}
	}
}

// evict drops the oldest buckets above the cap.
func (ev *Evaluator) evict() {
	if ev.cfg.MaxBuckets <= 0 || len(ev.buckets) <= ev.cfg.MaxBuckets {
		return
	}
	starts := ev.sortedStarts()
	for _, start := range starts[:len(ev.buckets)-ev.cfg.MaxBuckets] {
		delete(ev.buckets, start)
	}
}

func (ev *Evaluator) sortedStarts() []float64 {
	starts := make([]float64, 0, len(ev.buckets))
	for s := range ev.buckets {
		starts = append(starts, s)
	}
	sort.Float64s(starts)
	return starts
}

// EmitDecision selects the newest bucket closed by the watermark (or the
// newest partial bucket when none has closed), aggregates it, and runs the
// comparison against the baseline. Returns false when no bucket exists.
func (ev *Evaluator) EmitDecision(baseline map[string]contracts.Metric, configRef map[string]string) (contracts.DecisionSnapshot, bool) {
	began := ev.now()
	ev.flushBuffered()

	b := ev.pick()
	if b == nil {
		return contracts.DecisionSnapshot{}, false
	}

	current := map[string]contracts.Metric{}
	for _, name := range sortedMetricNames(b.values) {
		vals := b.values[name]
		mean := engine.Mean(vals)
		samples := make([]any, len(vals))
		for i, v := range vals {
			samples[i] = v
		}
		current[name] = contracts.Metric{
			Name:  name,
			Value: &mean,
			Unit:  b.units[name],
			Tags:  map[string]any{"samples": samples},
		}
	}

	result := engine.Compare(current, baseline, ev.reg, ev.cfg.DistributionEnabled)
	snap := contracts.DecisionSnapshot{
		InputSlice: contracts.InputSliceRef{
			WindowStart: b.start,
			WindowEnd:   b.end,
			Watermark:   ev.Watermark(),
			MetricCount: len(current),
		},
		ConfigRef: configRef,
		Decision:  result,
	}

	if ev.cfg.Deterministic {
		snap.TsUTC = time.Unix(0, int64(b.end*1e9)).UTC().Format(time.RFC3339Nano)
		snap.DecisionID = deterministicID(snap)
	} else {
		now := ev.now()
		snap.TsUTC = now.UTC().Format(time.RFC3339Nano)
		snap.DecisionID = uuid.New().String()
		snap.DecisionLatencySec = now.Sub(began).Seconds()
		ev.latency.Record(snap.DecisionLatencySec)
	}

	ev.logger.Info("decision emitted",
		"decision_id", snap.DecisionID,
		"status", string(result.Status),
		"window_start", b.start,
		"metrics", len(current))
	return snap, true
}

// pick returns the newest bucket whose end is at or before the watermark,
// falling back to the newest partial bucket.
func (ev *Evaluator) pick() *bucket {
	starts := ev.sortedStarts()
	if len(starts) == 0 {
		return nil
	}
	w := ev.Watermark()
	for i := len(starts) - 1; i >= 0; i-- {
		if b := ev.buckets[starts[i]]; b.end <= w {
			return b
		}
	}
	return ev.buckets[starts[len(starts)-1]]
}

// flushBuffered replays events held by the buffer policy into the window
// state. Events still older than every open bucket are dropped.
func (ev *Evaluator) flushBuffered() {
	if len(ev.buffered) == 0 {
		return
	}
	held := ev.buffered
	ev.buffered = nil
	for _, e := range held {
		ev.insert(e)
	}
}

func sortedMetricNames(m map[string][]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// deterministicID derives a stable decision id from the snapshot content so
// replays over the same event log produce identical snapshots.
func deterministicID(snap contracts.DecisionSnapshot) string {
	h, err := canonicalize.CanonicalHash(snap)
	if err != nil {
		return fmt.Sprintf("window-%.0f", snap.InputSlice.WindowStart)
	}
	return h[:32]
}
