package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-session/internal/journal"
	"github.com/nerrad567/gray-logic-session/migrations"
)

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the received-message journal",
	}
	cmd.AddCommand(
		newJournalListCmd(a),
		newJournalPruneCmd(a),
		newJournalStatusCmd(a),
		newJournalMigrateCmd(a),
		newJournalRollbackCmd(a),
	)
	return cmd
}

func newJournalListCmd(a *app) *cobra.Command {
	var (
		filter journal.Filter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeJournal, err := a.openJournal(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeJournal()
			repo := journal.NewSQLiteRepository(db.DB)

			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			res, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			if len(res.Entries) == 0 {
				fmt.Fprintln(out, "no messages")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRECEIVED\tTOPIC\tPAYLOAD")
			for _, e := range res.Entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.ReceivedAt.Local().Format(time.DateTime), e.Topic, e.Payload)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out, color.HiBlackString("%d of %d message(s)", len(res.Entries), res.Total))
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Topic, "topic", "", "Only show this topic")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum messages to show")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Skip this many messages")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show messages newer than this (e.g. 1h)")
	return cmd
}

func newJournalPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journaled messages older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			db, closeJournal, err := a.openJournal(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeJournal()
			repo := journal.NewSQLiteRepository(db.DB)

			n, err := repo.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d message(s)\n", color.YellowString("pruned"), n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age cutoff")
	return cmd
}

// journalStatus is the JSON form of journal status.
type journalStatus struct {
	Path    string   `json:"path"`
	Healthy bool     `json:"healthy"`
	Applied []string `json:"applied"`
	Pending []string `json:"pending"`
}

func newJournalStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the journal database health and schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeJournal, err := a.openJournal(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeJournal()
			return printJournalStatus(cmd, a, db)
		},
	}
}

func newJournalMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending journal schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeJournal, err := a.openJournal(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeJournal()
			return printJournalStatus(cmd, a, db)
		},
	}
}

func newJournalRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent journal schema migration",
		Long: `Roll back the most recently applied journal schema migration.
Rolling back the initial migration drops every journaled message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeJournal, err := a.openJournal(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeJournal()

			if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
				return fmt.Errorf("rolling back journal: %w", err)
			}
			a.log.Info("journal migration rolled back", "path", db.Path())
			return printJournalStatus(cmd, a, db)
		},
	}
}

func printJournalStatus(cmd *cobra.Command, a *app, db *database.DB) error {
	ctx := cmd.Context()
	healthErr := db.HealthCheck(ctx)
	status, err := db.Status(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading journal migrations: %w", err)
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(journalStatus{
			Path:    db.Path(),
			Healthy: healthErr == nil,
			Applied: status.Applied,
			Pending: status.Pending,
		}); err != nil {
			return err
		}
		return healthErr
	}

	health := color.GreenString("ok")
	if healthErr != nil {
		health = color.RedString("%v", healthErr)
	}
	fmt.Fprintf(out, "path     %s\n", db.Path())
	fmt.Fprintf(out, "health   %s\n", health)
	fmt.Fprintf(out, "applied  %d %v\n", len(status.Applied), status.Applied)
	fmt.Fprintf(out, "pending  %d %v\n", len(status.Pending), status.Pending)
	return healthErr
}
