// Command shadow is the engine's CLI surface, spec.md §6's
// "run <config> [--seed N] [--workers K] [--log-level L] [--end-time T]",
// grounded on bin/contagion/main.go's flag.Parse + LoadEvoEpiConfig +
// Validate + log.Fatal idiom, adapted to the exit-code taxonomy spec.md
// §6/§7 define rather than a single log.Fatal for every failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shadow/shadow-sub012/config"
	"github.com/shadow/shadow-sub012/logging"
	"github.com/shadow/shadow-sub012/scheduler"
	"github.com/shadow/shadow-sub012/trace"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
	exitInterrupted  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("shadow", flag.ContinueOnError)
	seed := fs.Uint64("seed", 0, "global PRNG seed (XORed per-host)")
	workers := fs.Int("workers", 0, "worker pool size (0: use the config's value)")
	logLevel := fs.String("log-level", "", "ERROR|WARNING|INFO|DEBUG|TRACE (overrides config)")
	endTime := fs.Float64("end-time", 0, "simulation end time in seconds (0: use the config's value)")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	if fs.NArg() < 1 || fs.Arg(0) != "run" {
		fmt.Fprintln(os.Stderr, "usage: shadow run <config> [--seed N] [--workers K] [--log-level L] [--end-time T]")
		return exitConfigError
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "shadow run: missing <config> path")
		return exitConfigError
	}
	configPath := fs.Arg(1)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadow: loading config: %s\n", err)
		return exitConfigError
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *endTime != 0 {
		cfg.EndTimeSec = *endTime
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "shadow: invalid config: %s\n", err)
		return exitConfigError
	}

	log := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	recorder, err := cfg.BuildRecorder()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadow: building trace recorder: %s\n", err)
		return exitConfigError
	}
	if recorder != nil {
		defer recorder.Close()
	}

	bootstrap, err := cfg.Build()
	if err != nil {
		log.Error(err)
		return exitConfigError
	}
	log.WithFields(logging.Fields{"hosts": len(bootstrap.Hosts), "workers": bootstrap.NumWorkers}).Info("bootstrap complete")

	sched := scheduler.NewFromBootstrap(bootstrap)
	if recorder != nil {
		sched.SetInstrumentationHook(trace.NewHook(recorder, log))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Warn("interrupted")
			return exitInterrupted
		}
		log.Error(err)
		return exitRuntimeError
	}

	log.Info("simulation complete")
	return exitOK
}
