package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/heartbeat-ops/heartbeat/pkg/config"
)

func runRunsListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("runs list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		db         string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&db, "db", "", "Run registry database (default HB_REGISTRY_DB)")
	cmd.IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	st, err := openStore(db, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), limit)
	if err != nil {
		return fail(stderr, err)
	}

	if jsonOutput {
		printJSON(stdout, runs)
		return 0
	}
	fmt.Fprintf(stdout, "%-24s %-16s %-16s %-16s %-16s %s\n",
		"RUN", "PROGRAM", "SUBSYSTEM", "TEST", "STATUS", "CREATED")
	for _, r := range runs {
		fmt.Fprintf(stdout, "%-24s %-16s %-16s %-16s %-16s %s\n",
			r.RunID, r.Program, r.Subsystem, r.TestName, r.Status,
			r.CreatedAt.UTC().Format(time.RFC3339))
	}
	return 0
}
