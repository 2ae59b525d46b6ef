package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "ingest":
		return runIngestCmd(args[2:], stdout, stderr)
	case "analyze":
		return runAnalyzeCmd(args[2:], stdout, stderr)
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "baseline":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: heartbeat baseline <set|request|approve|reject|list>")
			return 2
		}
		return runBaselineCmd(args[2:], stdout, stderr)
	case "runs":
		if len(args) < 3 || args[2] != "list" {
			fmt.Fprintln(stderr, "Usage: heartbeat runs list [flags]")
			return 2
		}
		return runRunsListCmd(args[3:], stdout, stderr)
	case "plan":
		return runPlanCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "verify-decision":
		return runVerifyDecisionCmd(args[2:], stdout, stderr)
	case "export":
		if len(args) < 3 || args[2] != "evidence-pack" {
			fmt.Fprintln(stderr, "Usage: heartbeat export evidence-pack [flags]")
			return 2
		}
		return runExportPackCmd(args[3:], stdout, stderr)
	case "daemon":
		return runDaemonCmd(args[2:], stdout, stderr)
	case "runtime":
		return runRuntimeCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sHeartbeat%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sDrift detection and policy-gated enforcement for operational telemetry.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  heartbeat <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "RUNS")
	printCommand(w, "ingest", "Normalize a metrics file into the run registry")
	printCommand(w, "analyze", "Compare a stored run against its baseline")
	printCommand(w, "run", "Ingest and analyze in one step")
	printCommand(w, "runs list", "List stored runs")
	printCommand(w, "plan", "Print the compiled comparison plan for a registry")

	printSection(w, "BASELINES")
	printCommand(w, "baseline", "Manage baseline tags (set/request/approve/reject/list)")

	printSection(w, "EVIDENCE & VERIFICATION")
	printCommand(w, "replay", "Re-execute a decision from an evidence directory")
	printCommand(w, "verify-decision", "Verify a decision record against its evidence")
	printCommand(w, "export", "Export an evidence pack (evidence-pack)")

	printSection(w, "DAEMON")
	printCommand(w, "daemon", "Run the streaming evaluation loop")
	printCommand(w, "runtime", "Show daemon checkpoint and audit chain status")

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sEXIT CODES:%s 0 ok, 1 unknown, 2 parse, 3 config, 4 registry\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-16s%s %s\n", ColorGreen, name, ColorReset, desc)
}
