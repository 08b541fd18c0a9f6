package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/harness"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/config"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "knnc",
	Short:         "kNN classification test client",
	Long:          "knnc streams the labeled test set through a knnd server and tallies its answers.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	rootCmd.AddCommand(pipeCmd, shmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies the optional N_TESTS argument at
// position i and builds the stderr logger.
func setup(args []string, i int) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	if len(args) > i {
		n, err := strconv.Atoi(args[i])
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("invalid N_TESTS %q: must be a non-negative integer", args[i])
		}
		cfg.Client.Tests = n
	}
	logger, err := logging.New(cfg.Logging, "")
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

// connectAndLoad runs dial while the test set is read from dataDir. A
// failed load cancels the context given to dial.
func connectAndLoad(ctx context.Context, dataDir string, dial func(context.Context) error) (*dataset.Dataset, error) {
	var test *dataset.Dataset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		test, err = dataset.Load(dataDir, dataset.Test)
		if err != nil {
			return fmt.Errorf("load test set: %w", err)
		}
		return nil
	})
	g.Go(func() error { return dial(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return test, nil
}

func run(cmd *cobra.Command, t harness.Transport, test *dataset.Dataset, name string, cfg *config.Config, logger *logging.Logger) error {
	report, err := harness.Run(t, test, harness.Options{
		Tests:  cfg.Client.Tests,
		Name:   name,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Run complete",
		zap.Int("total", report.Total),
		zap.Int("correct", report.Correct),
		zap.Duration("elapsed", report.Elapsed),
	)
	if jsonOutput {
		return report.WriteJSON(cmd.OutOrStdout())
	}
	return report.WriteText(cmd.OutOrStdout())
}
