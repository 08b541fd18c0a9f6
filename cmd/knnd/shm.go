package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/mailbox"
)

var shmCmd = &cobra.Command{
	Use:   "shm DATA_DIR [K]",
	Short: "Run the shared-memory mailbox server",
	Long: `Run the shared-memory mailbox server in the foreground.

The mailbox region and its SERVER, REQUEST and RESPONSE semaphores are
recreated in the shm directory at startup. Clients are served one at a time.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runShm,
}

func runShm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args, 1)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, "")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(logging.Transport(monitoring.TransportMailbox))

	knn, err := loadClassifier(args[0], cfg.Classifier.K, logger)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	srv := mailbox.NewServer(knn, mailbox.Names{Dir: cfg.Shm.Dir, Prefix: cfg.Shm.Prefix}, logger, metrics)
	if err := srv.Setup(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mailbox attached at %s\n", srv.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serve sits in a semaphore wait that nothing can interrupt, so on
	// shutdown it is abandoned. Close unlinks the objects but leaves them
	// mapped while a session is running.
	return serveUntilDone(ctx, func(ctx context.Context) error {
		errc := make(chan error, 1)
		go func() { errc <- srv.Serve() }()
		select {
		case err := <-errc:
			if errors.Is(err, mailbox.ErrClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}, srv.Close, metricsServer(cfg, metrics, logger), logger)
}
