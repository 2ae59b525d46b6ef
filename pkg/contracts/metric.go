// Package contracts defines the shared data model of the heartbeat engine:
// metrics, runs, decisions, actions, and wire events. Types here are plain
// data with no behavior so every component can depend on them without cycles.
package contracts

// Metric is a single observed metric value for a run.
// Tags optionally carries a "samples" list (numeric) used for distribution
// tests and attribution.
type Metric struct {
	Name  string         `json:"name"`
	Value *float64       `json:"value,omitempty"`
	Unit  string         `json:"unit,omitempty"`
	Tags  map[string]any `json:"tags,omitempty"`
}

// Samples extracts the numeric "samples" list from the metric tags.
// Non-numeric entries are skipped. Returns nil when no samples are present.
func (m Metric) Samples() []float64 {
	if m.Tags == nil {
		return nil
	}
	raw, ok := m.Tags["samples"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		// Already a typed slice (engine-internal path).
		if typed, ok := raw.([]float64); ok {
			out := make([]float64, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DistributionDriftConfig enables the two-sample KS test for a metric.
type DistributionDriftConfig struct {
	KSThreshold float64 `yaml:"ks_threshold" json:"ks_threshold"`
}

// MetricConfig is the per-canonical-name registry entry.
type MetricConfig struct {
	Aliases []string           `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Unit    string             `yaml:"unit,omitempty" json:"unit,omitempty"`
	UnitMap map[string]float64 `yaml:"unit_map,omitempty" json:"unit_map,omitempty"`

	DriftThreshold *float64 `yaml:"drift_threshold,omitempty" json:"drift_threshold,omitempty"`
	DriftPercent   *float64 `yaml:"drift_percent,omitempty" json:"drift_percent,omitempty"`
	MinEffect      *float64 `yaml:"min_effect,omitempty" json:"min_effect,omitempty"`
	FailThreshold  *float64 `yaml:"fail_threshold,omitempty" json:"fail_threshold,omitempty"`

	InvariantEq  *float64 `yaml:"invariant_eq,omitempty" json:"invariant_eq,omitempty"`
	InvariantMin *float64 `yaml:"invariant_min,omitempty" json:"invariant_min,omitempty"`
	InvariantMax *float64 `yaml:"invariant_max,omitempty" json:"invariant_max,omitempty"`

	Critical         bool                     `yaml:"critical,omitempty" json:"critical,omitempty"`
	DriftPersistence int                      `yaml:"drift_persistence,omitempty" json:"drift_persistence,omitempty"`
	Distribution     *DistributionDriftConfig `yaml:"distribution_drift,omitempty" json:"distribution_drift,omitempty"`

	// SourceColumns is used only for attribution labels.
	SourceColumns []string `yaml:"source_columns,omitempty" json:"source_columns,omitempty"`
}

// DefaultDriftPersistence is the run length required before a drift onset is
// considered sustained when the registry does not override it.
const DefaultDriftPersistence = 5

// Persistence returns the configured drift persistence or the default.
func (c MetricConfig) Persistence() int {
	if c.DriftPersistence > 0 {
		return c.DriftPersistence
	}
	return DefaultDriftPersistence
}

// HasComparators reports whether the config carries at least one rule that
// makes the metric worth registering.
func (c MetricConfig) HasComparators() bool {
	return c.DriftThreshold != nil || c.DriftPercent != nil ||
		c.FailThreshold != nil || c.InvariantEq != nil ||
		c.InvariantMin != nil || c.InvariantMax != nil ||
		c.Critical || c.Distribution != nil
}
