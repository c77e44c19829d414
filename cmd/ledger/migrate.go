package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/customer-ledger/migrations"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		newMigrateApplyCommand(a, "up", "Apply pending migrations", migrate.Up, 0),
		newMigrateApplyCommand(a, "down", "Roll back applied migrations", migrate.Down, 1),
		newMigrateStatusCommand(a),
	)
	return cmd
}

func newMigrateApplyCommand(a *app, use, short string, dir migrate.MigrationDirection, defaultLimit int) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := migrations.Apply(db, dir, limit)
			if err != nil {
				return err
			}
			a.logger.Info("migrations applied", "direction", use, "count", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d migrations\n", use, n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum migrations to run, 0 for all")
	return cmd
}

func newMigrateStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := migrate.GetMigrationRecords(db, "postgres")
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			applied := make(map[string]time.Time, len(records))
			for _, r := range records {
				applied[r.Id] = r.AppliedAt
			}

			all, err := migrations.Source().FindMigrations()
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MIGRATION\tAPPLIED")
			for _, m := range all {
				state := "no"
				if at, ok := applied[m.Id]; ok {
					state = at.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\n", m.Id, state)
			}
			return w.Flush()
		},
	}
}
