package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/pipe"
)

var pipeCmd = &cobra.Command{
	Use:   "pipe SERVER_DIR DATA_DIR [N_TESTS]",
	Short: "Test against the named-pipe daemon",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(args, 2)
		if err != nil {
			return err
		}
		defer logger.Sync()

		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		// Dial waits for REQUESTS to appear, so a client started just
		// after the daemon still connects. Interrupt gives up the wait.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var client *pipe.Client
		test, err := connectAndLoad(ctx, args[1], func(ctx context.Context) error {
			var err error
			client, err = pipe.Dial(ctx, root, logger)
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return errors.New("interrupted while waiting for the daemon")
			}
			return err
		}
		return run(cmd, client, test, monitoring.TransportPipe, cfg, logger)
	},
}
