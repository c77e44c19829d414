package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
	"github.com/josh-kwaku/customer-ledger/internal/service/ledger"
)

var errLedgerMismatch = errors.New("balances do not match the transaction log")

type reconciler interface {
	Reconcile(ctx context.Context, customerID int64) (*domain.Reconciliation, error)
}

func newReconcileCommand(a *app) *cobra.Command {
	var accountNumber string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check every stored balance against the sum of its transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			customers := repository.NewCustomerRepository(db)
			svc := ledger.NewService(
				customers,
				repository.NewAccountRepository(db),
				repository.NewTransactionRepository(db),
				repository.NewOutboxRepository(db),
				repository.NewDB(db, a.cfg.LockTimeout),
				nil,
				a.cfg,
			)

			var ids []int64
			if accountNumber != "" {
				c, err := customers.GetByAccountNumber(ctx, accountNumber)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}
				ids = []int64{c.ID}
			} else {
				ids, err = customers.ListIDs(ctx)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}
			}

			mismatches, err := reconcileAll(ctx, svc, ids, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			a.logger.Info("reconciliation finished", "customers", len(ids), "mismatches", mismatches)
			if mismatches > 0 {
				return fmt.Errorf("reconcile: %d customers: %w", mismatches, errLedgerMismatch)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountNumber, "account", "", "reconcile one account number only")
	return cmd
}

// reconcileAll prints one line per inconsistent customer and returns how many
// there were.
func reconcileAll(ctx context.Context, r reconciler, ids []int64, out io.Writer) (int, error) {
	mismatches := 0
	for _, id := range ids {
		rec, err := r.Reconcile(ctx, id)
		if err != nil {
			return mismatches, fmt.Errorf("reconcile customer %d: %w", id, err)
		}
		if rec.Consistent() {
			continue
		}
		mismatches++
		fmt.Fprintf(out, "customer %d: balance %d, credits %d, debits %d, ledger %d\n",
			rec.CustomerID, rec.Balance, rec.TotalCredit, rec.TotalDebit, rec.LedgerAmount)
	}
	return mismatches, nil
}
