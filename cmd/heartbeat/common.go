package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/store"
)

// exitCode maps the error taxonomy onto the stable CLI exit codes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch contracts.KindOf(err) {
	case contracts.KindParse, contracts.KindSchema:
		return 2
	case contracts.KindConfig, contracts.KindPolicy:
		return 3
	case contracts.KindRegistry:
		return 4
	}
	return 1
}

// fail prints the error and returns its exit code.
func fail(errOut io.Writer, err error) int {
	fmt.Fprintf(errOut, "Error: %v\n", err)
	return exitCode(err)
}

// loadRegistry resolves the metric registry path from the flag or the
// HB_METRIC_REGISTRY environment and returns the parsed registry plus the
// file hash used for baseline compatibility checks.
func loadRegistry(flagPath string, cfg *config.Config) (*registry.Registry, string, error) {
	path := flagPath
	if path == "" {
		path = cfg.MetricRegistry
	}
	if path == "" {
		return nil, "", contracts.NewError(contracts.KindConfig,
			"metric registry not set (use --registry or HB_METRIC_REGISTRY)")
	}
	reg, err := registry.Load(path)
	if err != nil {
		return nil, "", err
	}
	hash, err := registry.HashFile(path)
	if err != nil {
		return nil, "", err
	}
	return reg, hash, nil
}

// openStore opens the run registry database, defaulting to the HB_REGISTRY_DB
// path.
func openStore(flagDSN string, cfg *config.Config) (*store.Store, error) {
	dsn := flagDSN
	if dsn == "" {
		dsn = cfg.RegistryDB
	}
	return store.Open(dsn)
}

func makeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return contracts.WrapError(contracts.KindTransientIO, "create directory", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

// sinkFlag accumulates repeated --sink values of the form
// "stdout", "file:<path>", or "webhook:<url>".
type sinkFlag []string

func (s *sinkFlag) String() string { return strings.Join(*s, ",") }

func (s *sinkFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
