// The worker binary claims and executes jobs and runs the maintenance
// scheduler. Any number of worker replicas may share one database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/merchkit/opshub/internal/app"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/config"
	"github.com/merchkit/opshub/internal/infrastructure/observability"
	"github.com/merchkit/opshub/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obsCfg := observability.Config{Enabled: cfg.OTelEnabled}

	lp, logger, err := observability.InitLogger(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownProvider(lp.Shutdown, "logger")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownProvider(tp.Shutdown, "tracer")

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownProvider(mp.Shutdown, "meter")

	logger.InfoContext(ctx, "starting opshub worker", "env", cfg.Env)

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	worker := jobs.NewWorker(
		workerID(),
		application.Store,
		application.Registry,
		application.Jobs,
		application.Approvals,
		application.Auditor,
		application.Stream,
		logger,
		jobs.WorkerOptions{
			Concurrency:       cfg.Worker.Concurrency,
			ClaimBatchSize:    cfg.Worker.ClaimBatchSize,
			PollInterval:      cfg.Worker.PollInterval,
			LeaseTTL:          cfg.Worker.LeaseTTL,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			MaxBackoff:        cfg.Worker.MaxBackoff,
		},
	)

	sched := scheduler.New(
		application.Store,
		application.Store,
		application.Jobs,
		application.Approvals,
		application.Budgets,
		logger,
		scheduler.Options{
			ReconcileInterval:     cfg.Scheduler.ReconcileInterval,
			BudgetCheckInterval:   cfg.Scheduler.BudgetCheckInterval,
			ApprovalSweepInterval: cfg.Scheduler.ApprovalSweepInterval,
			AuditPruneInterval:    cfg.Scheduler.AuditPruneInterval,
		},
	)

	go sched.Start(ctx)
	return worker.Start(ctx)
}

// workerID must be unique per process so lease ownership checks can tell
// replicas apart.
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func shutdownProvider(shutdown func(context.Context) error, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shutdown "+name+" provider", "error", err)
	}
}
