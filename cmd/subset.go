package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/state"
)

type subsetFlags struct {
	n    int
	from string
	to   string
	seed uint64
}

// newSubsetCmd creates the 'subset' subcommand.
func newSubsetCmd() *cobra.Command {
	flags := &subsetFlags{}
	cmd := &cobra.Command{
		Use:   "subset",
		Short: "Derive a seeded random subset of a data directory",
		Long: `Shuffles the records of --from with a seeded generator, keeps the first
--n and writes them to --to together with a copy of the ledger. Descriptor
directories are symlinked, not copied. The same seed always selects the same
repositories.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if flags.n <= 0 {
				return errors.New("--n must be > 0")
			}
			if flags.from == "" || flags.to == "" {
				return errors.New("--from and --to are required")
			}
			name := app.Config.Data.ResultsName
			written, err := state.CreateSubset(state.NewLayout(flags.from, name), state.NewLayout(flags.to, name), flags.n, flags.seed)
			if err != nil {
				return fmt.Errorf("create subset: %w", err)
			}
			app.Logger.Info("Subset command finished.",
				zap.String("from", flags.from),
				zap.String("to", flags.to),
				zap.Int("records", written),
				zap.Uint64("seed", flags.seed))
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.n, "n", 0, "number of repositories to keep")
	cmd.Flags().StringVar(&flags.from, "from", "", "source data directory")
	cmd.Flags().StringVar(&flags.to, "to", "", "destination data directory (must not hold results yet)")
	cmd.Flags().Uint64Var(&flags.seed, "seed", state.DefaultSubsetSeed, "shuffle seed")
	return cmd
}
