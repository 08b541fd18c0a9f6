package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/knnipc/internal/classifier"
	"github.com/GriffinCanCode/knnipc/internal/dataset"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/config"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "knnd",
	Short:         "kNN digit classification server",
	Long:          "knnd classifies 784-byte feature vectors against a training set, over named pipes or a shared-memory mailbox.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.AddCommand(pipeCmd, shmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the optional K argument
// at position i.
func loadConfig(args []string, i int) (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if len(args) > i {
		k, err := strconv.Atoi(args[i])
		if err != nil || k < 1 {
			return nil, fmt.Errorf("invalid K %q: must be a positive integer", args[i])
		}
		cfg.Classifier.K = k
	}
	return cfg, nil
}

// loadClassifier reads the training set from dir and builds the kNN index.
func loadClassifier(dir string, k int, logger *logging.Logger) (*classifier.KNN, error) {
	start := time.Now()
	train, err := dataset.Load(dir, dataset.Train)
	if err != nil {
		return nil, fmt.Errorf("load training set: %w", err)
	}
	knn, err := classifier.New(train, k)
	if err != nil {
		return nil, err
	}
	logger.Info("Training set loaded",
		zap.Int("samples", train.Len()),
		zap.Int("k", k),
		zap.Duration("elapsed", time.Since(start)),
	)
	return knn, nil
}

// serveUntilDone runs serve alongside the optional metrics endpoint. When
// ctx ends or either side fails, stop is called and the metrics endpoint
// is shut down.
func serveUntilDone(ctx context.Context, serve func(ctx context.Context) error, stop func() error, m *monitoring.Server, logger *logging.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(gctx) })
	if m != nil {
		g.Go(m.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		if err := stop(); err != nil {
			logger.Warn("Stop failed", zap.Error(err))
		}
		if m == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func metricsServer(cfg *config.Config, metrics *monitoring.Metrics, logger *logging.Logger) *monitoring.Server {
	if cfg.Metrics.Addr == "" {
		return nil
	}
	logger.Info("Metrics endpoint enabled", zap.String("addr", cfg.Metrics.Addr))
	return monitoring.NewServer(cfg.Metrics.Addr, metrics)
}
