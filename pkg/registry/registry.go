// Package registry owns the canonical metric catalog: aliases, units,
// thresholds, invariants, criticality, and the compiled compare plan.
// The registry is immutable after Load; readers share it without locking.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

// Registry is the loaded metric catalog.
type Registry struct {
	Version    string
	Metrics    map[string]contracts.MetricConfig
	AliasIndex map[string]string // normalized alias -> canonical name

	// Warnings collected while loading (unknown keys, empty configs).
	Warnings []string
}

type registryFile struct {
	Version string               `yaml:"version"`
	Metrics map[string]yaml.Node `yaml:"metrics"`
}

// Known metric config keys; anything else is warned about, not rejected.
var knownMetricKeys = map[string]bool{
	"aliases": true, "unit": true, "unit_map": true,
	"drift_threshold": true, "drift_percent": true, "min_effect": true,
	"fail_threshold": true, "invariant_eq": true, "invariant_min": true,
	"invariant_max": true, "critical": true, "drift_persistence": true,
	"distribution_drift": true, "source_columns": true,
}

// NormalizeAlias lowercases an alias and strips every character outside
// [a-z0-9]. This is the only alias normalization rule in the system.
func NormalizeAlias(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Load parses a registry YAML file and builds the alias index.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "read metric registry", err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, contracts.WrapError(contracts.KindConfig, "parse metric registry", err)
	}

	reg := &Registry{
		Version:    file.Version,
		Metrics:    make(map[string]contracts.MetricConfig, len(file.Metrics)),
		AliasIndex: make(map[string]string),
	}

	names := make([]string, 0, len(file.Metrics))
	for name := range file.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := file.Metrics[name]
		reg.Warnings = append(reg.Warnings, unknownKeys(name, &node)...)

		var cfg contracts.MetricConfig
		if err := node.Decode(&cfg); err != nil {
			return nil, contracts.WrapError(contracts.KindConfig,
				fmt.Sprintf("metric %q", name), err)
		}
		if !cfg.HasComparators() {
			reg.Warnings = append(reg.Warnings,
				fmt.Sprintf("metric %q has no thresholds, invariants, or criticality", name))
		}

		// Normalize the unit map keys once so runtime lookups are O(1).
		if len(cfg.UnitMap) > 0 {
			normalized := make(map[string]float64, len(cfg.UnitMap))
			for u, f := range cfg.UnitMap {
				normalized[NormalizeAlias(u)] = f
			}
			cfg.UnitMap = normalized
		}

		reg.Metrics[name] = cfg
		reg.AliasIndex[NormalizeAlias(name)] = name
		for _, alias := range cfg.Aliases {
			reg.AliasIndex[NormalizeAlias(alias)] = name
		}
	}

	sort.Strings(reg.Warnings)
	return reg, nil
}

func unknownKeys(metric string, node *yaml.Node) []string {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	var warns []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !knownMetricKeys[key] {
			warns = append(warns, fmt.Sprintf("metric %q: unknown key %q", metric, key))
		}
	}
	return warns
}

// ResolveAlias maps a raw metric name to its canonical name.
// The empty string and false are returned for unknown names.
func (r *Registry) ResolveAlias(raw string) (string, bool) {
	name, ok := r.AliasIndex[NormalizeAlias(raw)]
	return name, ok
}

// Config returns the config for a canonical name.
func (r *Registry) Config(name string) (contracts.MetricConfig, bool) {
	cfg, ok := r.Metrics[name]
	return cfg, ok
}

// Names returns the canonical metric names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HashFile returns the SHA-256 hex digest of the registry file bytes.
// The digest is recorded as registry_hash on runs and decision records.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", contracts.WrapError(contracts.KindConfig, "hash metric registry", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
