package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talgya/berrysim/internal/persistence"
	"github.com/talgya/berrysim/internal/report"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored fit runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			db, err := a.requireDB()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListRuns(limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if jsonOutput(cmd) {
				if runs == nil {
					runs = []persistence.Run{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			return report.WriteRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")

	cmd.AddCommand(newRunShowCmd(a))
	return cmd
}

func newRunShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's settings, best vector and trial count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.requireDB()
			if err != nil {
				return err
			}
			defer db.Close()

			run, err := db.GetRun(args[0])
			if errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			trials, err := db.Trials(run.ID)
			if err != nil {
				return fmt.Errorf("load trials: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(map[string]any{
					"run":    run,
					"trials": len(trials),
				})
			}
			if err := report.WriteRuns(out, []persistence.Run{run}); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nseed %d, %d trials stored\n", run.Seed, len(trials))
			if run.Error != "" {
				fmt.Fprintf(out, "error: %s\n", run.Error)
			}
			if len(run.Best) > 0 {
				fmt.Fprintln(out, "\nbest vector:")
				return report.WriteParams(out, run.Best)
			}
			fmt.Fprintln(out, "\nstart vector:")
			return report.WriteParams(out, run.Start)
		},
	}
	return cmd
}

func (a *app) requireDB() (*persistence.DB, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("no database: set --db, BERRYSIM_DB or database in the config file")
	}
	return db, nil
}
