package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/compliance-ledger/config"
	"github.com/upb/compliance-ledger/repositories/sqlstore"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply, revert or inspect the database schema",
		Long:      "Runs the embedded schema migrations against the configured SQL database.\nWith no argument the pending migrations are applied.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE:      runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	cfg, logger, err := loadRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("migrate needs a SQL database, DATABASE_DRIVER is %q", cfg.Database.Driver)
	}

	db, err := sqlstore.NewDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	switch direction {
	case "up":
		if err := db.RunMigrations(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	}

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(out, "schema version %d", version)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
