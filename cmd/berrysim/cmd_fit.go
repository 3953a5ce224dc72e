package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/berrysim/internal/fit"
	"github.com/talgya/berrysim/internal/persistence"
	"github.com/talgya/berrysim/internal/report"
)

// trialBatch is how many trials are buffered before a database write.
const trialBatch = 200

func newFitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the parameter vector to the dataset with Nelder-Mead",
		Long: `Minimize the least-squares objective over the 17-element parameter vector.

Every evaluation is stored in the run database when one is configured, along
with the best vector and a simulated series for it. Ctrl+C stops the fit and
marks the run failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := a.vectorFlag(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-evals") {
				a.cfg.Fit.MaxEvaluations, _ = cmd.Flags().GetInt("max-evals")
			}
			if cmd.Flags().Changed("restarts") {
				a.cfg.Fit.Restarts, _ = cmd.Flags().GetInt("restarts")
			}
			chartPath, _ := cmd.Flags().GetString("chart")

			d, err := a.loadDataset()
			if err != nil {
				return err
			}
			obj, err := a.objective(d)
			if err != nil {
				return err
			}

			// ── Run storage ───────────────────────────────────────────
			db, err := a.openDB()
			if err != nil {
				return err
			}
			var runID string
			var pending []fit.Trial
			flush := func() {}
			if db != nil {
				defer db.Close()
				runID, err = db.CreateRun(persistence.NewRun{
					Dataset:        d.Source,
					Seed:           obj.Seeder.Seed(),
					Samples:        a.cfg.Fit.Samples,
					Restarts:       a.cfg.Fit.Restarts,
					MaxEvaluations: a.cfg.Fit.MaxEvaluations,
					Start:          start,
				})
				if err != nil {
					return fmt.Errorf("create run: %w", err)
				}
				flush = func() {
					if err := db.RecordTrials(runID, pending); err != nil {
						slog.Error("record trials failed", "run", runID, "error", err)
					}
					pending = pending[:0]
				}
				slog.Info("fit run started", "run", runID)
			}

			// ── Optimize ──────────────────────────────────────────────
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			best := fit.Penalty
			fitter := &fit.Fitter{
				Objective:      obj,
				MaxEvaluations: a.cfg.Fit.MaxEvaluations,
				Restarts:       a.cfg.Fit.Restarts,
				Seed:           obj.Seeder.Seed(),
				OnTrial: func(t fit.Trial) {
					if t.Score < best {
						best = t.Score
						slog.Info("new best", "restart", t.Restart, "n", t.N, "score", t.Score)
					}
					if db == nil {
						return
					}
					pending = append(pending, t)
					if len(pending) >= trialBatch {
						flush()
					}
				},
			}
			res, err := fitter.Fit(ctx, start)
			if db != nil {
				flush()
			}
			if err != nil {
				if db != nil {
					if ferr := db.FailRun(runID, err); ferr != nil {
						slog.Error("mark run failed", "run", runID, "error", ferr)
					}
				}
				return fmt.Errorf("fit: %w", err)
			}

			// ── Best-vector series ────────────────────────────────────
			_, full, stats, err := obj.Simulate(res.X, obj.Seeder.NextSeed())
			if err != nil {
				return err
			}
			if db != nil {
				if err := db.FinishRun(runID, res); err != nil {
					return fmt.Errorf("finish run: %w", err)
				}
				if err := db.SaveSeries(runID, full); err != nil {
					return fmt.Errorf("save series: %w", err)
				}
			}
			if chartPath != "" {
				if err := writeChart(chartPath, "fit "+runID, d, full); err != nil {
					return err
				}
			}

			var averaged []float64
			if a.cfg.Fit.Samples > 0 {
				averaged, err = obj.ScoreAveraged(context.WithoutCancel(ctx), res.X, a.cfg.Fit.Samples)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(map[string]any{
					"run":      runID,
					"result":   res,
					"stats":    stats,
					"averaged": jsonSafe(averaged),
				})
			}
			if runID != "" {
				fmt.Fprintf(out, "run %s\n", runID)
			}
			fmt.Fprintf(out, "best score %.6g after %d evaluations (%s, restart %d)\n\n",
				res.Score, res.Evaluations, res.Status, res.Restart)
			if err := report.WriteParams(out, res.X); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if err := report.WriteStageErrors(out, report.CompareStages(d, full)); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return report.WriteStats(out, stats)
		},
	}

	cmd.Flags().String("params", "", "Comma-separated 17-element start vector (default from config)")
	cmd.Flags().Int("max-evals", 0, "Objective evaluations per restart (default from config)")
	cmd.Flags().Int("restarts", 0, "Number of multi-start restarts (default from config)")
	cmd.Flags().String("chart", "", "Write a PNG chart of the best fit to this path")

	return cmd
}
