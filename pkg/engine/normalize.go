// Package engine is the pure decision core: metric normalization, baseline
// comparison, distribution drift, and attribution. It performs no I/O and
// holds no mutable state; given identical inputs its outputs are
// byte-identical across runs.
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
)

// RawMetric is an unnormalized metric as read from an input file or event.
// Value may be a number, a numeric string, or empty.
type RawMetric struct {
	Value any
	Unit  string
	Tags  map[string]any
}

// NormalizeMetrics canonicalizes raw metric names, coerces values, and
// applies unit conversions. Unknown names and uncoercible values produce
// warnings, never errors. Warnings are returned sorted and deduplicated.
func NormalizeMetrics(raw map[string]RawMetric, reg *registry.Registry) (map[string]contracts.Metric, []string) {
	out := make(map[string]contracts.Metric, len(raw))
	var warnings []string

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, rawName := range names {
		rm := raw[rawName]
		canonical, ok := reg.ResolveAlias(rawName)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown metric: %s", rawName))
			continue
		}
		if _, dup := out[canonical]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate metric: %s", canonical))
			continue
		}

		value, warn := coerceValue(rm.Value)
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("metric %s: %s", canonical, warn))
		}

		unit := rm.Unit
		cfg, _ := reg.Config(canonical)
		if value != nil && unit != "" {
			if factor, hit := cfg.UnitMap[registry.NormalizeAlias(unit)]; hit {
				converted := *value * factor
				value = &converted
				unit = cfg.Unit
			}
			// No unit_map match: keep the original unit even when the config
			// defines a canonical one. Stored tags depend on this.
		}

		out[canonical] = contracts.Metric{
			Name:  canonical,
			Value: value,
			Unit:  unit,
			Tags:  rm.Tags,
		}
	}

	return out, dedupSorted(warnings)
}

func coerceValue(v any) (*float64, string) {
	switch t := v.(type) {
	case nil:
		return nil, ""
	case float64:
		return &t, ""
	case float32:
		f := float64(t)
		return &f, ""
	case int:
		f := float64(t)
		return &f, ""
	case int64:
		f := float64(t)
		return &f, ""
	case uint64:
		f := float64(t)
		return &f, ""
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, ""
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Sprintf("non-numeric value %q", t)
		}
		return &f, ""
	default:
		return nil, fmt.Sprintf("unsupported value type %T", v)
	}
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
