package main

import (
	"flag"
	"io"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
)

// runPlanCmd compiles the registry into the flat comparison plan and prints
// it, so operators can inspect exactly what a comparison will evaluate.
func runPlanCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("plan", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var registryPath string
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML (default HB_METRIC_REGISTRY)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	reg, hash, err := loadRegistry(registryPath, cfg)
	if err != nil {
		return fail(stderr, err)
	}

	plan := registry.CompilePlan(reg)
	entries := make(map[string]any, plan.Len())
	for _, name := range plan.Names {
		if mc, ok := reg.Config(name); ok {
			entries[name] = mc
		}
	}
	printJSON(stdout, map[string]any{
		"registry_hash": hash,
		"metrics":       plan.Len(),
		"plan":          entries,
	})
	return 0
}
