package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/events"
	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
	"github.com/josh-kwaku/customer-ledger/internal/service"
	"github.com/josh-kwaku/customer-ledger/internal/service/ledger"
)

const (
	shutdownTimeout        = 30 * time.Second
	idempotencySweepPeriod = time.Hour
)

func newServeCommand(a *app) *cobra.Command {
	var withRelay bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "run the outbox relay in this process")
	return cmd
}

func (a *app) serve(ctx context.Context, withRelay bool) error {
	if a.cfg.JWTSecret == "" {
		return errors.New("serve: JWT_SECRET is required")
	}

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

	txdb := repository.NewDB(db, a.cfg.LockTimeout)
	outbox := repository.NewOutboxRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	relay := service.NewOutboxRelay(
		outbox,
		txdb,
		publisher,
		a.logger.With("component", "outbox_relay"),
		a.cfg.RelayInterval,
		a.cfg.RelayBatchSize,
		a.cfg.RelayMaxAttempts,
	)

	var notifier ledger.Notifier
	if withRelay {
		notifier = relay
	}

	ledgerSvc := ledger.NewService(
		repository.NewCustomerRepository(db),
		repository.NewAccountRepository(db),
		repository.NewTransactionRepository(db),
		outbox,
		txdb,
		notifier,
		a.cfg,
	)

	var bus interface{ Ping(context.Context) error }
	if sp, ok := publisher.(*events.StreamPublisher); ok {
		bus = sp
	}
	health := handler.NewHealthHandler(db, bus, outbox)

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(handler.NewTransactionHandler(ledgerSvc), health, a.cfg.JWTSecret, idempotency),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if withRelay {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Start(bgCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweepIdempotencyKeys(bgCtx, idempotency, a.logger)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server started", "addr", addr, "relay", withRelay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stopBackground()
		wg.Wait()
		return fmt.Errorf("serve: %w", err)
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)

	// Requests have drained. The relay commits the batch it is on and stops.
	stopBackground()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

type expiredCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

func sweepIdempotencyKeys(ctx context.Context, cache expiredCleaner, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencySweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.CleanExpired(ctx)
			if err != nil {
				logger.Error("idempotency key sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency keys swept", "removed", n)
			}
		}
	}
}
