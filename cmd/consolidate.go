package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/state"
)

// newConsolidateCmd creates the 'consolidate' subcommand.
func newConsolidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Reconcile has_pom in the result CSV with the descriptors on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			updated, err := state.Consolidate(app.Layout)
			if err != nil {
				return fmt.Errorf("consolidate: %w", err)
			}
			app.Logger.Info("Consolidate command finished.",
				zap.String("results", app.Layout.ResultsPath()),
				zap.Int("updated", updated))
			return nil
		},
	}
}
