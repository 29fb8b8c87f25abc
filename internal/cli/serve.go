package cli

import (
	"github.com/spf13/cobra"
	"github.com/upb/compliance-ledger/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the compliance API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return server.Run(cmd.Context(), cfg, logger)
		},
	}
}
