package main

import (
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/repository"
	"github.com/josh-kwaku/customer-ledger/internal/service"
)

func newRelayCommand(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver pending outbox events to the event bus",
		Long: "Runs the outbox relay on its own, for deployments that start the API with --relay=false. " +
			"With --once it drains what is due and exits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			publisher, closePublisher, err := a.newPublisher(ctx)
			if err != nil {
				return err
			}
			defer closePublisher()

			relay := service.NewOutboxRelay(
				repository.NewOutboxRepository(db),
				repository.NewDB(db, a.cfg.LockTimeout),
				publisher,
				a.logger.With("component", "outbox_relay"),
				a.cfg.RelayInterval,
				a.cfg.RelayBatchSize,
				a.cfg.RelayMaxAttempts,
			)

			if !once {
				relay.Start(ctx)
				return nil
			}

			total := 0
			for {
				n, err := relay.RelayOnce(ctx)
				if err != nil {
					return err
				}
				total += n
				if n < a.cfg.RelayBatchSize {
					break
				}
			}
			a.logger.Info("outbox drained", "claimed", total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain due events and exit")
	return cmd
}
