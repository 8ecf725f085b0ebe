// Command airlock runs the intent confirmation gate: every sensitive
// action passes through proposal, preview and explicit confirmation before
// it executes, and abandoned executions are reclaimed by a sweeper.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/config"
	"github.com/airlock-labs/airlock/pkg/sweeper"

	_ "github.com/lib/pq" // Postgres driver
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run dispatches the subcommand; it is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		return startServer()
	}

	switch args[1] {
	case "server", "serve":
		return startServer()
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "actions":
		return runActionsCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "airlock %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer()
		}
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
	fmt.Fprintf(w, "%sAirlock %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sNo sensitive action runs without passing through the chamber.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  airlock <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "GATE")
	printCommand(w, "server", "Run the airlock server (default)")
	printCommand(w, "sweep", "Reclaim stuck executions (--once or --interval)")

	printSection(w, "UTILITIES")
	printCommand(w, "actions", "List the action catalog (--json)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// runSweepCmd runs the recovery sweeper against the configured store,
// either once or on an interval, without the rest of the server.
func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		once     bool
		interval time.Duration
		timeout  time.Duration
	)
	cfg := loadConfig()
	cmd.BoolVar(&once, "once", false, "Run a single sweep pass and exit")
	cmd.DurationVar(&interval, "interval", cfg.SweepInterval, "Scan cadence for continuous sweeping")
	cmd.DurationVar(&timeout, "timeout", cfg.ExecTimeout, "Age at which an executing intent counts as abandoned")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	intents, _, cleanup, err := openIntentStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening intent store: %v\n", err)
		return 1
	}
	defer cleanup()

	sw := sweeper.New(intents, sweeper.WithTimeout(timeout), sweeper.WithInterval(interval))

	if once {
		n, err := sw.RunOnce(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Sweep failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Sweep complete: %d intent(s) expired\n", n)
		return 0
	}

	log.Printf("[airlock] sweeper: interval=%s timeout=%s", interval, timeout)
	if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "Sweeper stopped: %v\n", err)
		return 1
	}
	return 0
}

// runActionsCmd prints the action catalog.
func runActionsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("actions", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := loadConfig()
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading catalog: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(cat.Definitions(), "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, def := range cat.Definitions() {
		marker := " "
		if def.Sensitive {
			marker = "!"
		}
		fmt.Fprintf(stdout, "%s %-24s %s\n", marker, def.Name, def.Summary)
	}
	fmt.Fprintf(stdout, "\n%d action(s); ! requires confirmation\n", cat.Len())
	return 0
}

// loadConfig reads env config and applies the deployment profile when one
// is selected.
func loadConfig() *config.Config {
	cfg := config.Load()
	if code := os.Getenv("AIRLOCK_PROFILE"); code != "" {
		dir := os.Getenv("AIRLOCK_PROFILES_DIR")
		if dir == "" {
			dir = "profiles"
		}
		p, err := config.LoadProfile(dir, code)
		if err != nil {
			log.Fatalf("Failed to load profile %q: %v", code, err)
		}
		p.Apply(cfg)
		log.Printf("[airlock] profile: %s", p.Code)
	}
	return cfg
}
