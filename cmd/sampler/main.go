// Package main is the entry point for the ledger sampler, a long-running
// process that periodically samples ledger state into a time-series store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/yourorg/ledger-sampler/internal/aggregate"
	"github.com/yourorg/ledger-sampler/internal/config"
	"github.com/yourorg/ledger-sampler/internal/otel"
	"github.com/yourorg/ledger-sampler/internal/scheduler"
	"github.com/yourorg/ledger-sampler/internal/status"
)

// readConcurrency covers the four ledger reads and the two relational reads of a tick
const readConcurrency = 6

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("sampler", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	flags.Bool("once", false, "run a single collection, print a summary and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return 1
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Error("Invalid configuration")
		return 1
	}

	shutdownTracer := otel.InitTracer(cfg.Otel)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := aggregate.New(readConcurrency, cfg.Postgres.ActiveWindow)
	defer agg.Stop()

	tracker := status.NewTracker()
	sched := scheduler.New(scheduler.NewDialer(cfg), agg, scheduler.Options{
		Period:      cfg.Schedule.Period,
		TickTimeout: cfg.Schedule.TickTimeout,
		Backoff:     scheduler.FixedBackoff{Wait: cfg.Schedule.ConnectRetryDelay},
		Observer:    tracker,
	})

	if cfg.RunMode == config.RunModeOnce {
		return runOnce(ctx, sched, cfg.Display.Symbol)
	}
	return runDaemon(ctx, sched, tracker, cfg.Status.Addr)
}

// runOnce performs one collection and prints the operator summary
func runOnce(ctx context.Context, sched *scheduler.Scheduler, symbol string) int {
	set, err := sched.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printSummary(os.Stdout, symbol, set)
	return 0
}

// runDaemon runs the scheduler until a signal arrives
func runDaemon(ctx context.Context, sched *scheduler.Scheduler, tracker *status.Tracker, addr string) int {
	var srv *http.Server
	if addr != "" {
		srv = status.NewServer(addr, tracker)
		go func() {
			logrus.Infof("Status server listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("Status server failed")
			}
		}()
	}

	err := sched.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Status server shutdown failed")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("Scheduler stopped")
		return 1
	}
	logrus.Info("Sampler stopped")
	return 0
}

// setupLogging configures logrus from the log settings
func setupLogging(cfg config.LogConfig) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
