// walletsyncd serves the Perk webhook, install and wallet device endpoints and
// drains the notification queue.
//
// Configuration comes from WALLETSYNC_* environment variables; flags override
// the listen address and database. --seed-program creates or updates a
// program and exits. --notify-driver=job runs notification dispatch through
// an in-process go-job queue with bounded retries instead of a plain ticker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/spf13/pflag"

	walletsync "github.com/goliatone/go-walletsync"
	"github.com/goliatone/go-walletsync/adapters/gocommand"
	"github.com/goliatone/go-walletsync/adapters/gojob"
	"github.com/goliatone/go-walletsync/adapters/gologger"
	"github.com/goliatone/go-walletsync/cmd/internal/dbstores"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/query"
)

const (
	notifyDriverBus = "bus"
	notifyDriverJob = "job"
)

type options struct {
	addr           string
	driver         string
	dsn            string
	memory         bool
	migrate        bool
	logLevel       string
	notifyDriver   string
	seedProgram    int64
	seedName       string
	seedCredential string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "walletsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("walletsyncd", pflag.ContinueOnError)
	flagSet.StringVar(&opts.addr, "addr", "", "listen address (overrides WALLETSYNC_SERVER_ADDRESS)")
	flagSet.StringVar(&opts.driver, "database-driver", "", "postgres or sqlite3 (overrides WALLETSYNC_DATABASE_DRIVER)")
	flagSet.StringVar(&opts.dsn, "database-dsn", "", "database connection string (overrides WALLETSYNC_DATABASE_DSN)")
	flagSet.BoolVar(&opts.memory, "memory", false, "run on in-memory stores without a database or signing checks")
	flagSet.BoolVar(&opts.migrate, "migrate", true, "apply the embedded migrations on start")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	flagSet.StringVar(&opts.notifyDriver, "notify-driver", notifyDriverBus, "notification dispatch driver: bus or job")
	flagSet.Int64Var(&opts.seedProgram, "seed-program", 0, "create or update the program with this Perk id, then exit")
	flagSet.StringVar(&opts.seedName, "seed-program-name", "", "display name for --seed-program")
	flagSet.StringVar(&opts.seedCredential, "seed-program-credential", "", "Perk API credential for --seed-program")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.notifyDriver != notifyDriverBus && opts.notifyDriver != notifyDriverJob {
		return fmt.Errorf("unknown --notify-driver %q, want %s or %s", opts.notifyDriver, notifyDriverBus, notifyDriverJob)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, core.EnvConfigLoader{}, core.Config{
		Server:   core.ServerConfig{Address: opts.addr},
		Database: core.DatabaseConfig{Driver: opts.driver, DSN: opts.dsn},
	})
	if err != nil {
		return err
	}
	if !opts.memory && opts.seedProgram == 0 {
		if err := cfg.RequireSigning(); err != nil {
			return err
		}
	}

	provider := gologger.NewSlogProvider(os.Stderr, gologger.ParseLevel(opts.logLevel))
	log := provider.GetLogger(gologger.ComponentName("walletsyncd"))
	_, jobLog, _, _ := gologger.ResolveForJob(provider, nil)

	stores := walletsync.MemoryStores()
	if !opts.memory {
		opened, closeStores, err := dbstores.Open(ctx, cfg, opts.migrate)
		if err != nil {
			return err
		}
		defer closeStores()
		stores = opened
	}

	rt, err := walletsync.New(cfg,
		walletsync.WithStores(stores),
		walletsync.WithLoggerProvider(provider),
	)
	if err != nil {
		return err
	}

	if opts.seedProgram != 0 {
		return seed(ctx, rt, opts)
	}
	return serve(ctx, rt, log, notifications{driver: opts.notifyDriver, jobLog: jobLog})
}

func seed(ctx context.Context, rt *walletsync.Runtime, opts options) error {
	program, err := rt.SeedProgram(ctx, walletsync.UpsertProgramInput{
		ExternalID:    opts.seedProgram,
		Name:          opts.seedName,
		APICredential: opts.seedCredential,
	})
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"id":          program.ID,
		"external_id": program.ExternalID,
		"name":        program.Name,
	})
}

type logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// notifications selects how due notification jobs are drained.
type notifications struct {
	driver string
	jobLog glog.Logger
}

func serve(ctx context.Context, rt *walletsync.Runtime, log logger, notify notifications) error {
	bus := gocommand.NewBus(gocmd.NewRegistry())
	registration, err := gocommand.RegisterWalletSync(bus, rt.CommandHandlers())
	if err != nil {
		return err
	}
	defer registration.Unsubscribe()
	if err := bus.Initialize(); err != nil {
		return err
	}
	logCapabilities(ctx, log)

	cfg := rt.Config()
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           rt.Handler().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() {
		errs <- notify.run(ctx, cfg.Notifications, log)
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	log.Info("walletsyncd stopped")
	return err
}

func logCapabilities(ctx context.Context, log logger) {
	caps, err := gocommand.Query[query.StorageCapabilitiesMessage, map[string]bool](ctx, query.StorageCapabilitiesMessage{})
	if err != nil {
		log.Error("storage capability check failed", "error", err.Error())
		return
	}
	log.Info("storage capabilities", "capabilities", caps)
}

func (n notifications) run(ctx context.Context, cfg core.NotificationConfig, log logger) error {
	if n.driver == notifyDriverJob {
		return runNotificationJobs(ctx, cfg, n.jobLog)
	}
	return drainNotifications(ctx, cfg.PollInterval, log)
}

// drainNotifications dispatches due notification jobs through the command
// bus on every tick until ctx is done.
func drainNotifications(ctx context.Context, interval time.Duration, log logger) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := gocommand.DispatchNotifications(ctx, 0); err != nil && ctx.Err() == nil {
			log.Error("notification dispatch failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runNotificationJobs schedules one dispatch message per poll interval on an
// in-process go-job queue and drains it with a worker that retries failed
// passes and dead letters them after MaxAttempts.
func runNotificationJobs(ctx context.Context, cfg core.NotificationConfig, log glog.Logger) error {
	q := gojob.NewMemoryQueue()
	policy := gojob.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
	worker, err := gojob.NewNotificationWorker(
		gojob.NewDequeuerAdapter(q, policy),
		gojob.DispatchFunc(gocommand.DispatchNotifications),
		policy,
		gojob.WithWorkerHook(gojob.LogHook{Logger: log}),
		gojob.WithRetryDelay(cfg.PollInterval),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.Run(ctx)
	}()
	err = gojob.EnqueueDispatches(ctx, gojob.NewEnqueuerAdapter(q), cfg.PollInterval, cfg.BatchSize)
	cancel()
	if runErr := <-workerErr; err == nil || errors.Is(err, context.Canceled) {
		err = runErr
	}
	return err
}
