package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/espgate/internal/config"
	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/gate"
	"github.com/breeze-rmm/espgate/internal/logging"
)

var (
	waitInterval time.Duration
	waitTimeout  time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print whether ESP is running and exit with the profile's code",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGate(cmd.Context(), false))
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until ESP has finished or the timeout expires",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGate(cmd.Context(), true))
	},
}

func init() {
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 0, "poll interval (default wait_interval_seconds)")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "give up after this long (default wait_timeout_minutes)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(waitCmd)
}

// runGate evaluates once, or polls when wait is set, prints the status line
// and returns the exit code.
func runGate(ctx context.Context, wait bool) int {
	cfg, closer := gateConfig()
	defer closer.Close()

	journal := openJournal(cfg)
	defer journal.Close()

	reader, source, err := newReader(cfg)
	if err != nil {
		return unresolved(err)
	}
	runner, err := newRunner(cfg, reader, journal)
	if err != nil {
		return unresolved(err)
	}
	log.Debug("evaluating", logging.KeyProfile, runner.Profile().Name, logging.KeySource, source)

	if !wait {
		out := runner.Check(ctx)
		fmt.Println(out.Line)
		return out.ExitCode
	}

	interval, timeout := waitInterval, waitTimeout
	if interval <= 0 {
		interval = time.Duration(cfg.WaitIntervalSeconds) * time.Second
	}
	if timeout <= 0 {
		timeout = time.Duration(cfg.WaitTimeoutMinutes) * time.Minute
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := runner.Wait(ctx, interval)
	fmt.Println(out.Line)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("wait interrupted", logging.KeyError, err)
	}
	return out.ExitCode
}

// unresolved reports a failure that happened before a profile could be
// applied. The detection profile's fallback keeps the answer safe.
func unresolved(err error) int {
	log.Error("cannot evaluate", logging.KeyError, err)
	profile, perr := gate.ResolveProfile(config.Default(), config.ProfileDetection)
	if perr != nil {
		fmt.Println(esp.Result{Verdict: esp.VerdictError, Reason: err}.Line())
		return 1
	}
	res := esp.Fallback(esp.SourceError("setup", err), profile.Policy)
	fmt.Println(res.Line())
	return profile.ExitCode(res.Verdict)
}
