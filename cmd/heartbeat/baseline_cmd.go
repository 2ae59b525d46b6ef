package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/heartbeat-ops/heartbeat/pkg/baseline"
	"github.com/heartbeat-ops/heartbeat/pkg/config"
	"github.com/heartbeat-ops/heartbeat/pkg/registry"
	"github.com/heartbeat-ops/heartbeat/pkg/store"
)

func runBaselineCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "set":
		return runBaselineSet(args[1:], stdout, stderr)
	case "request":
		return runBaselineRequest(args[1:], stdout, stderr)
	case "approve":
		return runBaselineApprove(args[1:], stdout, stderr)
	case "reject":
		return runBaselineReject(args[1:], stdout, stderr)
	case "list":
		return runBaselineList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown baseline subcommand: %s\n", args[0])
		return 2
	}
}

// baselineEnv opens the store and builds a governor from the baseline
// policy's governance section. The registry hash is optional: when the
// registry cannot be resolved, hash enforcement simply has nothing to pin.
func baselineEnv(policyPath, registryPath, db string) (*store.Store, *baseline.Governor, string, error) {
	cfg := config.Load()
	st, err := openStore(db, cfg)
	if err != nil {
		return nil, nil, "", err
	}

	if policyPath == "" {
		policyPath = cfg.BaselinePolicy
	}
	policy := baseline.DefaultPolicy()
	if policyPath != "" {
		policy, err = baseline.LoadPolicy(policyPath)
		if err != nil {
			st.Close()
			return nil, nil, "", err
		}
	}

	hash := ""
	if registryPath == "" {
		registryPath = cfg.MetricRegistry
	}
	if registryPath != "" {
		hash, err = registry.HashFile(registryPath)
		if err != nil {
			st.Close()
			return nil, nil, "", err
		}
	}
	return st, baseline.NewGovernor(st, policy.Governance), hash, nil
}

func runBaselineSet(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline set", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var tag, runID, policyPath, registryPath, db string
	cmd.StringVar(&tag, "tag", "", "Baseline tag name (REQUIRED)")
	cmd.StringVar(&runID, "run-id", "", "Run to tag (REQUIRED)")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML")
	cmd.StringVar(&db, "db", "", "Run registry database")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tag == "" || runID == "" {
		fmt.Fprintln(stderr, "Error: --tag and --run-id are required")
		cmd.Usage()
		return 2
	}

	st, gov, hash, err := baselineEnv(policyPath, registryPath, db)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	if err := gov.SetTag(context.Background(), tag, runID, hash); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Tag %q -> %s\n", tag, runID)
	return 0
}

func runBaselineRequest(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline request", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var tag, runID, by, reason, policyPath, registryPath, db string
	cmd.StringVar(&tag, "tag", "", "Baseline tag name (REQUIRED)")
	cmd.StringVar(&runID, "run-id", "", "Run to tag (REQUIRED)")
	cmd.StringVar(&by, "by", "", "Requesting identity (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Request reason")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML")
	cmd.StringVar(&db, "db", "", "Run registry database")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tag == "" || runID == "" || by == "" {
		fmt.Fprintln(stderr, "Error: --tag, --run-id, and --by are required")
		cmd.Usage()
		return 2
	}

	st, gov, hash, err := baselineEnv(policyPath, registryPath, db)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	req, err := gov.Request(context.Background(), tag, runID, by, reason, hash)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, req)
	return 0
}

func runBaselineApprove(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline approve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var requestID, by, reason, policyPath, registryPath, db string
	cmd.StringVar(&requestID, "request", "", "Request id (REQUIRED)")
	cmd.StringVar(&by, "by", "", "Approving identity (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Approval reason")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML")
	cmd.StringVar(&db, "db", "", "Run registry database")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if requestID == "" || by == "" {
		fmt.Fprintln(stderr, "Error: --request and --by are required")
		cmd.Usage()
		return 2
	}

	st, gov, hash, err := baselineEnv(policyPath, registryPath, db)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	req, err := gov.Approve(context.Background(), requestID, by, reason, hash)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, req)
	return 0
}

func runBaselineReject(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline reject", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var requestID, by, policyPath, registryPath, db string
	cmd.StringVar(&requestID, "request", "", "Request id (REQUIRED)")
	cmd.StringVar(&by, "by", "", "Rejecting identity (REQUIRED)")
	cmd.StringVar(&policyPath, "baseline-policy", "", "Baseline policy YAML")
	cmd.StringVar(&registryPath, "registry", "", "Metric registry YAML")
	cmd.StringVar(&db, "db", "", "Run registry database")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if requestID == "" || by == "" {
		fmt.Fprintln(stderr, "Error: --request and --by are required")
		cmd.Usage()
		return 2
	}

	st, gov, _, err := baselineEnv(policyPath, registryPath, db)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	if err := gov.Reject(context.Background(), requestID, by); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "Request %s rejected\n", requestID)
	return 0
}

func runBaselineList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("baseline list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var db string
	cmd.StringVar(&db, "db", "", "Run registry database")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	st, err := openStore(db, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	tags, err := st.ListTags(context.Background())
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, tags)
	return 0
}
