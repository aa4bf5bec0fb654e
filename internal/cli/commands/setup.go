// Package commands implements the leaprepl subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/cli/config"
	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/demo"
	"github.com/leapstack-labs/leaprepl/internal/dsl"
	"github.com/leapstack-labs/leaprepl/internal/engine"
	"github.com/leapstack-labs/leaprepl/internal/sandbox"
	"github.com/leapstack-labs/leaprepl/internal/shell"
	"github.com/leapstack-labs/leaprepl/internal/worker"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Catalog *database.Catalog
	Service engine.Service
}

// NewCommandContext builds the evaluation service the configuration asks
// for. The returned cleanup must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	ctx := cmd.Context()
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	catalog, err := newCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	svc, cleanup, err := newService(ctx, cfg, catalog, logger)
	if err != nil {
		return nil, nil, err
	}

	return &CommandContext{
		Cfg:     cfg,
		Logger:  logger,
		Catalog: catalog,
		Service: svc,
	}, cleanup, nil
}

// NewCommandContextWithoutService creates a CommandContext without a
// service. Useful for commands that only read the configuration.
func NewCommandContextWithoutService(cmd *cobra.Command) (*CommandContext, error) {
	ctx := cmd.Context()
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	catalog, err := newCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &CommandContext{Cfg: cfg, Logger: logger, Catalog: catalog}, nil
}

// newCatalog builds the catalog, falling back to the demo database when
// nothing is configured.
func newCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.Catalog, error) {
	settings := cfg.Databases
	if len(settings) == 0 {
		url, err := demo.Create(ctx, demo.DefaultPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create demo database: %w", err)
		}
		logger.Debug("using demo database", slog.String("url", url))
		settings = map[string]database.Settings{
			demo.Name: {URL: url, Description: "Demo database (SQLite)"},
		}
	}

	catalog, err := database.NewCatalog(settings)
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	return catalog, nil
}

func newService(ctx context.Context, cfg *config.Config, catalog *database.Catalog, logger *slog.Logger) (engine.Service, func(), error) {
	if cfg.Worker.Isolation == config.IsolationInProcess {
		eng, err := engine.New(engine.Options{
			Sessions: dsl.Factory(dsl.Options{Logger: logger}),
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return eng, func() {}, nil
	}

	pool, err := worker.NewPool(worker.PoolOptions{
		Spawner:      &worker.ExecSpawner{Executable: cfg.Worker.Executable, Logger: logger},
		Size:         cfg.Worker.Prewarm,
		DrainTimeout: cfg.Worker.DrainTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := pool.Close(); err != nil {
			logger.Warn("failed to close worker pool", slog.String("error", err.Error()))
		}
	}

	dispatcher := worker.NewDispatcher(pool, sandbox.NewResolver(cfg.Worker.PolicyDir, logger), logger)
	if cfg.Worker.Prewarm > 0 {
		if err := dispatcher.Prewarm(ctx, catalog.All()...); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to start workers: %w", err)
		}
	}
	return dispatcher, cleanup, nil
}

// newSessionEngine builds the in-process evaluator of interactive sessions.
// Unless isolation is turned off, each session is held to the sandbox
// policy a worker for its database would get.
func newSessionEngine(cfg *config.Config, logger *slog.Logger) (*engine.Evaluator, error) {
	if cfg.Worker.Isolation == config.IsolationInProcess {
		return engine.New(engine.Options{
			Sessions: dsl.Factory(dsl.Options{Logger: logger}),
			Logger:   logger,
		})
	}

	return engine.New(engine.Options{
		Sessions: func(sc shell.Config, db *database.Descriptor) (shell.Shell, error) {
			guard := sandbox.NewGuard(worker.PolicyOf(db), logger)
			return dsl.Factory(dsl.Options{
				Dial:      guard.Dial,
				Lookup:    guard.Lookup,
				Authorize: guard.Connect,
				Sandboxed: true,
				Logger:    logger,
			})(sc, db)
		},
		Logger: logger,
	})
}

// resolveDatabase finds the database named by ref, or the default one when
// ref is empty.
func resolveDatabase(catalog *database.Catalog, ref string) (*database.Descriptor, error) {
	if ref == "" {
		return catalog.Default(), nil
	}
	return catalog.Lookup(ref)
}
