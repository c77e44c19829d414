package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/config"
	"github.com/josh-kwaku/customer-ledger/internal/events"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
)

const serviceName = "customer-ledger"

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "ledger",
		Short:        "Customer balances, transfers and their transaction log",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Init(serviceName, cfg.LogLevel, cfg.AppEnv)
			return nil
		},
	}

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newRelayCommand(a),
		newReconcileCommand(a),
		newAccountStatusCommand(a),
		newTokenCommand(a),
	)
	return root
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := repository.NewPostgresDB(ctx, a.cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     a.cfg.DBMaxOpenConns,
		MaxIdleConns:     a.cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: a.cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: a.cfg.DBConnMaxIdleTimeS,
	}, a.cfg.DBConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("openDB: %w", err)
	}
	return db, nil
}

// newPublisher picks the event sink. Without REDIS_URL events go to the log.
// The returned func releases the sink's connection.
func (a *app) newPublisher(ctx context.Context) (events.Publisher, func(), error) {
	if a.cfg.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set, publishing events to the log")
		return events.NewLogPublisher(a.logger), func() {}, nil
	}

	client, err := events.NewRedisClient(ctx, a.cfg.RedisURL, a.cfg.DBConnectTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("newPublisher: %w", err)
	}

	a.logger.Info("publishing events to redis stream", "stream", a.cfg.EventStream)
	pub := events.NewStreamPublisher(client, a.cfg.EventStream, a.cfg.EventStreamMaxLen)
	return pub, func() { client.Close() }, nil
}
