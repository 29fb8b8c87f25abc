// Package cli implements the evidencectl operator commands.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/internal/observability"
	"go.uber.org/zap"
)

// NewRootCommand builds the evidencectl command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "evidencectl",
		Short:         "Operate the compliance evidence ledger",
		Long:          "Administrative commands for the compliance evidence ledger: schema migrations,\norganization seeding, offline archive verification and the API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(),
		newSeedCommand(),
		newVerifyArchiveCommand(),
		newServeCommand(),
	)
	return root
}

// Execute runs the command tree with ctx
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadRuntime reads configuration from the environment and builds the logger
func loadRuntime(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}
