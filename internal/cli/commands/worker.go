package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/cli/config"
	"github.com/leapstack-labs/leaprepl/internal/dsl"
	"github.com/leapstack-labs/leaprepl/internal/engine"
	"github.com/leapstack-labs/leaprepl/internal/sandbox"
	"github.com/leapstack-labs/leaprepl/internal/worker"
)

// NewWorkerCommand creates the hidden worker command run by the pool.
func NewWorkerCommand() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one sandboxed evaluation over stdin/stdout",
		Long:   `Run a worker process. Started by the worker pool; not meant to be run by hand.`,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, policyPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Sandbox policy file")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func runWorker(cmd *cobra.Command, policyPath string) error {
	cfg := config.GetConfig(cmd.Context())
	// stdout carries the protocol; logs go to stderr for the host to collect.
	logger, err := config.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	policy, err := sandbox.Load(policyPath)
	if err != nil {
		return err
	}
	if !policy.Trusts(sandbox.ScopeStarlark) {
		return errors.New("sandbox policy does not trust the script runtime")
	}
	guard := sandbox.NewGuard(policy, logger)

	eng, err := engine.New(engine.Options{
		Sessions: dsl.Factory(dsl.Options{
			Dial:      guard.Dial,
			Lookup:    guard.Lookup,
			Authorize: guard.Connect,
			Sandboxed: true,
			Logger:    logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	logger.Debug("worker started", slog.String("policy", policyPath))
	return worker.Serve(cmd.Context(), cmd.InOrStdin(), os.Stdout, eng, logger)
}
