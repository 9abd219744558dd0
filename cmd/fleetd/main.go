// Command fleetd is the fleet control plane's process entrypoint (§6.4).
// Run without arguments to start the daemon (scheduler, chat connectors,
// webhook/admin HTTP server); run a subcommand for a one-shot operation
// against a running fleet's persisted state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/config"
	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/fleet"
	"github.com/ikido/fleetctl/internal/jobstore"
)

// Exit codes (§6.4): 0 success, 2 configuration invalid, 3 agent not
// found, 4 runtime failed, 5 timed out, 6 cancelled.
const (
	exitOK                = 0
	exitConfigInvalid     = 2
	exitAgentNotFound     = 3
	exitRuntimeFailed     = 4
	exitTimedOut          = 5
	exitCancelled         = 6
)

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]
	if len(args) == 0 {
		return runDaemon()
	}

	switch args[0] {
	case "trigger":
		return runTrigger(args[1:])
	case "list":
		return runList(args[1:])
	case "status":
		return runStatus(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitConfigInvalid
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `fleetd - fleet control plane

Usage:
  fleetd                          start the daemon
  fleetd trigger -agent NAME [-prompt TEXT] [-resume SESSION_ID]
  fleetd list jobs [-agent NAME] [-status STATUS] [-limit N]
  fleetd status -job JOB_ID`)
}

func loadFleet(ctx context.Context) (*fleet.Manager, *logger.Logger, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return nil, nil, exitConfigInvalid
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		return nil, nil, exitConfigInvalid
	}
	logger.SetDefault(log)

	m, err := fleet.Initialise(ctx, cfg, log)
	if err != nil {
		log.Error("fleet initialise failed", zap.Error(err))
		return nil, log, exitConfigInvalid
	}
	return m, log, exitOK
}

func runDaemon() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, log, code := loadFleet(ctx)
	if m == nil {
		return code
	}
	defer log.Sync()

	log.Info("starting fleet control plane")
	if err := m.Start(ctx); err != nil {
		log.Fatal("fleet failed to start", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down fleet control plane")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := m.Stop(stopCtx); err != nil {
		log.Error("fleet stop error", zap.Error(err))
	}
	return exitOK
}

func runTrigger(args []string) int {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	agentName := fs.String("agent", "", "agent name to trigger")
	prompt := fs.String("prompt", "", "prompt text (falls back to the agent's schedule default)")
	resume := fs.String("resume", "", "session id to resume")
	_ = fs.Parse(args)

	if *agentName == "" {
		fmt.Fprintln(os.Stderr, "trigger: -agent is required")
		return exitConfigInvalid
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, log, code := loadFleet(ctx)
	if m == nil {
		return code
	}
	defer log.Sync()

	result, err := m.Trigger(ctx, *agentName, *prompt, *resume)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger failed: %v\n", err)
		if err.Error() == fmt.Sprintf("fleet: unknown agent %q", *agentName) {
			return exitAgentNotFound
		}
		return exitRuntimeFailed
	}
	if !result.Success {
		switch {
		case result.Error == "timed_out":
			return exitTimedOut
		case result.Error == "cancelled":
			return exitCancelled
		default:
			return exitRuntimeFailed
		}
	}
	return exitOK
}

func runList(args []string) int {
	if len(args) == 0 || args[0] != "jobs" {
		fmt.Fprintln(os.Stderr, "usage: fleetd list jobs [-agent NAME] [-status STATUS] [-limit N]")
		return exitConfigInvalid
	}
	fs := flag.NewFlagSet("list jobs", flag.ExitOnError)
	agentName := fs.String("agent", "", "filter by agent name")
	status := fs.String("status", "", "filter by job status")
	limit := fs.Int("limit", 50, "max rows")
	_ = fs.Parse(args[1:])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, log, code := loadFleet(ctx)
	if m == nil {
		return code
	}
	defer log.Sync()

	rows, err := m.ListJobs(ctx, jobstore.ListOptions{AgentName: *agentName, Status: *status, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "list jobs failed: %v\n", err)
		return exitRuntimeFailed
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rows)
	return exitOK
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jobID := fs.String("job", "", "job id")
	_ = fs.Parse(args)

	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "status: -job is required")
		return exitConfigInvalid
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, log, code := loadFleet(ctx)
	if m == nil {
		return code
	}
	defer log.Sync()

	job, err := m.Job(*jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return exitRuntimeFailed
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(job)
	return exitOK
}
