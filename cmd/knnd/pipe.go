package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/config"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/daemon"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/pipe"
)

const (
	lockFile = "knnd.lock"
	pidFile  = "knnd.pid"
)

var foreground bool

var pipeCmd = &cobra.Command{
	Use:   "pipe SERVER_DIR DATA_DIR [K]",
	Short: "Run the named-pipe daemon",
	Long: `Run the named-pipe daemon rooted at SERVER_DIR.

Clients register through SERVER_DIR/REQUESTS and each gets its own worker.
Unless --foreground is given the daemon detaches and prints its PID.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runPipe,
}

func init() {
	pipeCmd.Flags().BoolVar(&foreground, "foreground", false, "stay attached to the terminal")
}

func runPipe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args, 2)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	dataDir, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	if !daemon.IsDetached() && !foreground && !cfg.Daemon.Foreground {
		childArgs := []string{"pipe", root, dataDir, strconv.Itoa(cfg.Classifier.K)}
		if configPath != "" {
			abs, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			childArgs = append(childArgs, "--config", abs)
		}
		pid, err := daemon.Detach(root, childArgs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "daemon PID: %d\n", pid)
		return nil
	}

	if err := daemon.Prepare(root); err != nil {
		return err
	}
	return servePipe(cfg, root, dataDir)
}

func servePipe(cfg *config.Config, root, dataDir string) (err error) {
	logRoot := ""
	if daemon.IsDetached() {
		logRoot = root
	}
	logger, err := logging.New(cfg.Logging, logRoot)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(logging.Transport(monitoring.TransportPipe), zap.String("root", root))

	lock := daemon.NewLockfile(filepath.Join(root, lockFile))
	if err := lock.TryAcquire(); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, lock.Release()) }()

	pidfile := daemon.NewPidfile(filepath.Join(root, pidFile))
	if err := pidfile.Write(); err != nil {
		return err
	}
	defer func() { err = errors.Join(err, pidfile.Remove()) }()

	knn, err := loadClassifier(dataDir, cfg.Classifier.K, logger)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		return err
	}

	metrics := monitoring.NewMetrics()
	srv := pipe.NewServer(root, knn, logger, metrics)
	if err := srv.Listen(); err != nil {
		logger.Error("Startup failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Daemon started", zap.Int("pid", os.Getpid()))
	err = serveUntilDone(ctx, func(context.Context) error {
		if err := srv.Serve(); !errors.Is(err, pipe.ErrClosed) {
			return err
		}
		return nil
	}, srv.Close, metricsServer(cfg, metrics, logger), logger)
	if err != nil {
		logger.Error("Daemon stopped", zap.Error(err))
	}
	return err
}
