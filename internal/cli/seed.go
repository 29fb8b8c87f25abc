package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/compliance-ledger/app"
)

type seedOptions struct {
	orgName string
	orgSlug string
}

func newSeedCommand() *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Sync the framework catalog and seed organization controls",
		Long:  "Upserts every catalog framework, then creates any missing controls for existing\norganizations. With --org-name a new organization is created and seeded first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.orgName, "org-name", "", "Create an organization with this name")
	cmd.Flags().StringVar(&opts.orgSlug, "org-slug", "", "Slug of the new organization")
	cmd.MarkFlagsRequiredTogether("org-name", "org-slug")
	return cmd
}

func runSeed(cmd *cobra.Command, opts *seedOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = deps.Close(closeCtx)
	}()

	if err := deps.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "catalog: %d frameworks, %d controls\n",
		len(deps.Seeder.Catalog().Frameworks), deps.Seeder.Catalog().ControlCount())

	if opts.orgName == "" {
		return nil
	}
	org, created, err := deps.Seeder.CreateOrganization(ctx, opts.orgName, opts.orgSlug)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "organization %s (%s) created with %d controls\n", org.Slug, org.ID, created)
	return nil
}
