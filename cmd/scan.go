package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/crawler"
	"github.com/JakeFAU/pom-harvester/internal/logging"
)

// newScanCmd creates the 'scan' subcommand, the full pipeline.
func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the repository listing and harvest descriptors",
		Long: `Resumes the repository listing from the persisted cursor, batches every
non-fork repository into detail queries and downloads the descriptors of the
ones written in the target language. Interrupt once to drain in-flight
batches, twice to abort.`,
		RunE: runScanCommand,
	}
}

func runScanCommand(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, p, err := newPipeline(cmd.Context(), app, "scan")
	if err != nil {
		return err
	}

	crawl := app.Config.Crawl
	engine := crawler.NewEngine(crawler.Config{
		BatchSize:          crawl.BatchSize,
		PagePeriod:         crawl.PagePeriod,
		MaxInflightBatches: crawl.MaxInflightBatches,
	}, p.client, p.harvester, p.cursor, p.stop,
		crawler.WithLogger(logging.Component(app.Logger, "crawler")),
		crawler.WithReporter(p.reporter),
	)
	p.engine.Store(engine)

	runErr := engine.Run(ctx)
	if runErr != nil {
		runErr = fmt.Errorf("run scan: %w", runErr)
	}
	if err := p.finish(runErr); err != nil {
		return err
	}
	app.Logger.Info("Scan command finished.",
		zap.Uint64("cursor", p.cursor.Load()),
		zap.Int("ledgered", p.ledger.Len()))
	return nil
}
