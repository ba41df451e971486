// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/config"
	"github.com/JakeFAU/pom-harvester/internal/logging"
	"github.com/JakeFAU/pom-harvester/internal/state"
)

// rootFlags are the persistent flags shared by every subcommand. Set flags
// override the loaded configuration.
type rootFlags struct {
	cfgFile     string
	dataDir     string
	dev         bool
	metricsAddr string
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App carries what every subcommand needs once configuration is loaded.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Layout state.Layout
}

// Close flushes the logger.
func (a *App) Close() {
	if a == nil || a.Logger == nil {
		return
	}
	_ = a.Logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(_ context.Context, flags *rootFlags, cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	persistent := cmd.Flags()
	if persistent.Changed("data") {
		cfg.Data.Dir = flags.dataDir
	}
	if persistent.Changed("dev") {
		cfg.Logging.Development = flags.dev
	}
	if persistent.Changed("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &App{
		Config: cfg,
		Logger: logger,
		Layout: state.NewLayout(cfg.Data.Dir, cfg.Data.ResultsName),
	}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests Maven build descriptors from public GitHub repositories.",
		Long: `harvester walks the public GitHub repository listing in id order, keeps
the repositories whose language histogram contains Java, and downloads every
pom.xml in their default branch. Progress is durable: the scan cursor, the
completion ledger and the result CSV all live in the data directory, so an
interrupted run resumes where it stopped.`,
		SilenceUsage: true,

		// Build the App after flags are parsed but before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), flags, cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok {
				appInstance.Close()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.cfgFile, "config", "", "config file (YAML); env HARVESTER_* and GH_TOKENS override it")
	pf.StringVar(&flags.dataDir, "data", "", "data directory holding state.json, fetched, the CSV and poms/")
	pf.BoolVar(&flags.dev, "dev", false, "human-friendly development logging")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /healthz, /metrics and /v1/status on this address")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newConsolidateCmd())
	cmd.AddCommand(newSubsetCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, logErr := logging.New(false)
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
