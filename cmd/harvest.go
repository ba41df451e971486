package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/state"
)

// newHarvestCmd creates the 'harvest' subcommand, the download-only resume.
func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Download descriptors for recorded repositories not yet fetched",
		Long: `Reads the result CSV and fetches descriptors for every repository that is
not in the ledger, one repository at a time, then reconciles has_pom against
the descriptors on disk. Ledgered repositories cost no API calls.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, p, err := newPipeline(cmd.Context(), app, "harvest")
	if err != nil {
		return err
	}

	records, err := state.ReadRecords(app.Layout.ResultsPath())
	if err != nil {
		return p.finish(fmt.Errorf("read results: %w", err))
	}
	p.setPhase("resuming")
	app.Logger.Info("Resuming harvest", zap.Int("records", len(records)), zap.Int("ledgered", p.ledger.Len()))
	if err := p.harvester.Resume(ctx, records, p.stop); err != nil {
		return p.finish(fmt.Errorf("resume harvest: %w", err))
	}

	p.setPhase("consolidating")
	updated, err := state.Consolidate(app.Layout)
	if err != nil {
		return p.finish(fmt.Errorf("consolidate: %w", err))
	}
	if err := p.finish(nil); err != nil {
		return err
	}
	app.Logger.Info("Harvest command finished.", zap.Int("updated", updated))
	return nil
}
