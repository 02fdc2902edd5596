// walletsync-doctor runs the walletsync diagnostics once and exits non-zero
// when any check fails, so CI can gate deploys on it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	walletsync "github.com/goliatone/go-walletsync"
	"github.com/goliatone/go-walletsync/adapters/gologger"
	"github.com/goliatone/go-walletsync/cmd/internal/dbstores"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/doctor"
)

// errChecksFailed reports a completed run with failing checks.
var errChecksFailed = errors.New("walletsync-doctor: checks failed")

type options struct {
	verbose    bool
	skipRoutes bool
	json       bool
	color      bool
	memory     bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errChecksFailed):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "walletsync-doctor: %v\n", err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("walletsync-doctor", pflag.ContinueOnError)
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "include underlying causes in failure details")
	flagSet.BoolVar(&opts.skipRoutes, "skip-routes", false, "skip the route reachability probes")
	flagSet.BoolVar(&opts.json, "json", false, "print the report as JSON")
	flagSet.BoolVar(&opts.color, "color", true, "colorize the text report")
	flagSet.BoolVar(&opts.memory, "memory", false, "check against in-memory stores instead of the database")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, core.EnvConfigLoader{}, core.Config{})
	if err != nil {
		return err
	}

	stores := walletsync.MemoryStores()
	if !opts.memory {
		opened, closeStores, err := dbstores.Open(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer closeStores()
		stores = opened
	}

	rt, err := walletsync.New(cfg,
		walletsync.WithStores(stores),
		walletsync.WithLoggerProvider(gologger.NewSlogProvider(io.Discard, gologger.LevelFatal)),
	)
	if err != nil {
		return err
	}

	report := rt.Doctor().Run(ctx, doctor.Options{Verbose: opts.verbose, SkipRoutes: opts.skipRoutes})
	if err := write(out, report, opts); err != nil {
		return err
	}
	if report.HasFailures() {
		return errChecksFailed
	}
	return nil
}

func write(out io.Writer, report doctor.Report, opts options) error {
	if opts.json {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return render(out, report, opts.color)
}
