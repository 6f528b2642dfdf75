package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tradewarden/tradewarden"
	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/gateway/binancefeed"
	"github.com/tradewarden/tradewarden/gateway/paper"
	"github.com/tradewarden/tradewarden/logger/zerolog"
)

var version = "dev"

// Command line flags
var (
	configPath   string
	dryRun       bool
	paperBalance float64
	progressBar  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tradewarden",
		Short:   "Algorithmic trade lifecycle engine",
		Version: version,
	}

	rootCmd.AddCommand(buildRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine over the live feed with a simulated broker",
		RunE:  runEngine,
	}

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Acknowledge orders without sending them")
	runCmd.Flags().Float64Var(&paperBalance, "paper-balance", 0, "Starting balance for the simulated account")
	runCmd.Flags().BoolVar(&progressBar, "progress", false, "Show a progress bar during the candle preload")

	return runCmd
}

func runEngine(cmd *cobra.Command, _ []string) error {
	bootLog, err := zerolog.New("info", "2006-01-02 15:04:05", true, false)
	if err != nil {
		return err
	}

	store, err := config.Load(configPath, bootLog)
	if err != nil {
		return err
	}
	cfg := store.Current()
	if dryRun {
		cfg.Engine.DryRun = true
	}
	if paperBalance > 0 {
		cfg.Engine.PaperBalance = paperBalance
	}

	log, err := zerolog.New(cfg.Log.Level, cfg.Log.TimeFormat, cfg.Log.Colored, cfg.Log.JSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feeder := binancefeed.NewFeeder(
		os.Getenv("BINANCE_API_KEY"),
		os.Getenv("BINANCE_API_SECRET"),
		log,
	)
	broker := paper.NewBroker(feeder, cfg.Engine.PaperBalance, log)

	options := []tradewarden.Option{tradewarden.WithLogger(log)}
	if progressBar {
		options = append(options, tradewarden.WithProgressBar())
	}

	engine, err := tradewarden.New(ctx, cfg, broker, options...)
	if err != nil {
		return err
	}

	if err := engine.Run(ctx); err != nil {
		return err
	}

	engine.Summary()
	return nil
}
