// Package app composes the application graph shared by the server and worker
// binaries: storage, credential sealing, the change stream and every
// application service wired to the composed Postgres store.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/application/budgets"
	"github.com/merchkit/opshub/internal/application/gateway"
	"github.com/merchkit/opshub/internal/application/handlers"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/application/reconcile"
	"github.com/merchkit/opshub/internal/application/webhookin"
	"github.com/merchkit/opshub/internal/config"
	"github.com/merchkit/opshub/internal/infrastructure/keyseal"
	"github.com/merchkit/opshub/internal/infrastructure/persistence/postgres"
	"github.com/merchkit/opshub/internal/infrastructure/stream"
)

// App is the composed application graph.
type App struct {
	Config     *config.Config
	Store      *postgres.Store
	Stream     *stream.Hub
	Auditor    *audit.Recorder
	Approvals  *approvals.Service
	Budgets    *budgets.Service
	Gateway    *gateway.Gateway
	Registry   *jobs.Registry
	Jobs       *jobs.Engine
	Ingestor   *webhookin.Ingestor
	Reconciler *reconcile.Engine
	Logger     *slog.Logger
}

// Build wires the full graph. The caller owns shutdown ordering: stop intake
// first, then Close.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := postgres.Connect(ctx, postgres.DBConfig{
		DSN:             cfg.Storage.PostgresURL,
		MaxConns:        cfg.Storage.MaxConns,
		MinConns:        cfg.Storage.MinConns,
		ConnMaxLifetime: cfg.Storage.MaxConnLifetime,
		ConnectTimeout:  cfg.Storage.ConnectTimeout,
		RunMigrations:   cfg.Storage.RunMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	logger.InfoContext(ctx, "storage initialized", "url", MaskPassword(cfg.Storage.PostgresURL))

	unsealer, err := newUnsealer(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	hub := stream.NewHub(logger)
	auditor := audit.NewRecorder(store, logger)
	approvalSvc := approvals.NewService(store, auditor, hub, logger)
	budgetSvc := budgets.NewService(store, approvalSvc, auditor, hub, logger)

	gw := gateway.New(store, unsealer, approvalSvc, auditor, logger, gateway.Options{
		RequestTimeout:    cfg.Gateway.RequestTimeout,
		ThrottleThreshold: cfg.Gateway.ThrottleThreshold,
	})

	registry := jobs.NewRegistry()
	engine := jobs.NewEngine(store, registry, auditor, hub, logger)

	reconciler := reconcile.NewEngine(store, store, reconcile.NewGatewayFetcher(gw), approvalSvc, auditor, logger)

	set := &handlers.Set{
		Listings:       store,
		Gateway:        gw,
		Reconciler:     reconciler,
		Budgets:        budgetSvc,
		Auditor:        auditor,
		Logger:         logger,
		AuditRetention: cfg.Audit.Retention,
	}
	if err := set.RegisterAll(registry); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register job handlers: %w", err)
	}

	ingestor := webhookin.NewIngestor(store, store, engine, unsealer, auditor, logger, cfg.Webhook.IngestTimeout)

	return &App{
		Config:     cfg,
		Store:      store,
		Stream:     hub,
		Auditor:    auditor,
		Approvals:  approvalSvc,
		Budgets:    budgetSvc,
		Gateway:    gw,
		Registry:   registry,
		Jobs:       engine,
		Ingestor:   ingestor,
		Reconciler: reconciler,
		Logger:     logger,
	}, nil
}

// Close releases the stream and storage.
func (a *App) Close() {
	a.Stream.Shutdown()
	a.Store.Close()
}

func newUnsealer(cfg *config.Config) (keyseal.Unsealer, error) {
	if cfg.CredentialsKey == "" {
		return keyseal.PlainKeeper{}, nil
	}
	keeper, err := keyseal.NewAESKeeper(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential sealing: %w", err)
	}
	return keeper, nil
}

// MaskPassword masks the password in a connection string for logging.
func MaskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
