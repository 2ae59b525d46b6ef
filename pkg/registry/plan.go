package registry

import "math"

// Plan is the compiled compare plan: parallel per-metric threshold arrays in
// stable sorted name order. Large registries are scanned position-by-position
// instead of through map lookups.
type Plan struct {
	Names []string

	DriftThresholds []float64 // NaN when unset
	DriftPercents   []float64
	MinEffects      []float64
	FailThresholds  []float64
	InvariantEq     []float64
	InvariantMin    []float64
	InvariantMax    []float64
	Critical        []bool
	Persistence     []int
	KSThresholds    []float64 // NaN when distribution drift disabled

	index map[string]int
}

// CompilePlan builds the compare plan for a registry.
func CompilePlan(reg *Registry) *Plan {
	names := reg.Names()
	n := len(names)
	p := &Plan{
		Names:           names,
		DriftThresholds: make([]float64, n),
		DriftPercents:   make([]float64, n),
		MinEffects:      make([]float64, n),
		FailThresholds:  make([]float64, n),
		InvariantEq:     make([]float64, n),
		InvariantMin:    make([]float64, n),
		InvariantMax:    make([]float64, n),
		Critical:        make([]bool, n),
		Persistence:     make([]int, n),
		KSThresholds:    make([]float64, n),
		index:           make(map[string]int, n),
	}
	for i, name := range names {
		cfg := reg.Metrics[name]
		p.DriftThresholds[i] = deref(cfg.DriftThreshold)
		p.DriftPercents[i] = deref(cfg.DriftPercent)
		p.MinEffects[i] = deref(cfg.MinEffect)
		p.FailThresholds[i] = deref(cfg.FailThreshold)
		p.InvariantEq[i] = deref(cfg.InvariantEq)
		p.InvariantMin[i] = deref(cfg.InvariantMin)
		p.InvariantMax[i] = deref(cfg.InvariantMax)
		p.Critical[i] = cfg.Critical
		p.Persistence[i] = cfg.Persistence()
		if cfg.Distribution != nil {
			p.KSThresholds[i] = cfg.Distribution.KSThreshold
		} else {
			p.KSThresholds[i] = math.NaN()
		}
		p.index[name] = i
	}
	return p
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Index returns the plan position of a canonical name.
func (p *Plan) Index(name string) (int, bool) {
	i, ok := p.index[name]
	return i, ok
}

// Len returns the number of planned metrics.
func (p *Plan) Len() int { return len(p.Names) }
