package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/internal/domain"
	"github.com/josh-kwaku/customer-ledger/internal/repository"
)

type statusUpdater interface {
	UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus) error
}

func newAccountStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "account-status <account-id> <ACTIVE|CLOSED>",
		Short: "Open or close an account type for every customer that holds it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			id, status, err := setAccountStatus(ctx, repository.NewAccountRepository(db), args[0], args[1])
			if err != nil {
				return err
			}
			a.logger.Info("account status updated", "account_id", id, "status", status)
			fmt.Fprintf(cmd.OutOrStdout(), "account %d is now %s\n", id, status)
			return nil
		},
	}
}

func setAccountStatus(ctx context.Context, accounts statusUpdater, idArg, statusArg string) (int64, domain.AccountStatus, error) {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("account-status: invalid account id %q", idArg)
	}

	status := domain.AccountStatus(strings.ToUpper(statusArg))
	if err := accounts.UpdateStatus(ctx, id, status); err != nil {
		return 0, "", fmt.Errorf("account-status: %w", err)
	}
	return id, status, nil
}
