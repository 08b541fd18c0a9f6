package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/knnipc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/knnipc/internal/mailbox"
)

var shmCmd = &cobra.Command{
	Use:   "shm DATA_DIR [N_TESTS]",
	Short: "Test against the shared-memory mailbox server",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, logger, err := setup(args, 1)
		if err != nil {
			return err
		}
		defer logger.Sync()

		var client *mailbox.Client
		test, err := connectAndLoad(cmd.Context(), args[0], func(context.Context) error {
			var err error
			client, err = mailbox.Dial(mailbox.Names{Dir: cfg.Shm.Dir, Prefix: cfg.Shm.Prefix}, logger)
			return err
		})
		if client != nil {
			defer func() { err = errors.Join(err, client.Close()) }()
		}
		if err != nil {
			return err
		}
		return run(cmd, client, test, monitoring.TransportMailbox, cfg, logger)
	},
}
