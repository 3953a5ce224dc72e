package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/entropy"
	"github.com/talgya/berrysim/internal/report"
)

func newSimulateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one simulation and print the daily stage counts",
		Long: `Run the population model once for a parameter vector.

With a dataset, the day-0 population comes from its earliest row and the run
covers every observed day. Without one, pass --init and --days.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := a.vectorFlag(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")
			noHarvest, _ := cmd.Flags().GetBool("no-harvest")
			chartPath, _ := cmd.Flags().GetString("chart")
			csvPath, _ := cmd.Flags().GetString("csv")

			var d *dataset.Dataset
			var init engine.InitialCounts
			var start time.Time
			if a.cfg.Dataset != "" {
				if d, err = a.loadDataset(); err != nil {
					return err
				}
				init = d.InitialCounts(a.cfg.InitialBlue)
				start = d.StartDate()
				if days == 0 {
					days = d.LastDay() + 1
				}
			} else {
				initStr, _ := cmd.Flags().GetString("init")
				if init, err = parseInit(initStr); err != nil {
					return err
				}
				startStr, _ := cmd.Flags().GetString("start")
				if start, err = time.Parse("2006-01-02", startStr); err != nil {
					return fmt.Errorf("parse --start: %w", err)
				}
			}
			if days <= 0 {
				return errors.New("--days must be positive")
			}

			ps, err := engine.Unwrap(x, init)
			if err != nil {
				return err
			}

			seeder := entropy.NewSeeder(a.cfg.Seed)
			sim := engine.NewSimulation(seeder.Next(), a.harvestFunc(start))
			sim.Spawner.RandomInitialAge = a.cfg.RandomInitialAge
			_, full := sim.Evaluate([]int{days - 1}, ps, !noHarvest)

			slog.Info("simulation finished",
				"seed", seeder.Seed(),
				"days", sim.Stats.Days,
				"picked", sim.Stats.Picked,
				"lost", sim.Stats.Lost,
			)

			if sim.Stats.Capped {
				slog.Warn("population limit reached; later arrivals were dropped", "limit", sim.MaxPopulation)
			}

			if csvPath != "" {
				if err := writeSeriesCSV(csvPath, start, full); err != nil {
					return err
				}
			}
			if chartPath != "" {
				if err := writeChart(chartPath, "simulation", d, full); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(out).Encode(map[string]any{
					"seed":   seeder.Seed(),
					"stats":  sim.Stats,
					"series": full,
				})
			}
			if err := report.WriteSeries(out, start, full); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return report.WriteStats(out, sim.Stats)
		},
	}

	cmd.Flags().String("params", "", "Comma-separated 17-element parameter vector (default from config)")
	cmd.Flags().Int("days", 0, "Days to simulate (default: through the last observed day)")
	cmd.Flags().String("init", "0,0,0,0,0,0", "Initial counts green..blue when no dataset is given")
	cmd.Flags().String("start", "2024-01-01", "Calendar date of day 0 when no dataset is given")
	cmd.Flags().Bool("no-harvest", false, "Disable picking")
	cmd.Flags().String("chart", "", "Write a PNG chart to this path")
	cmd.Flags().String("csv", "", "Write the observed-stage series as a dataset CSV to this path")

	return cmd
}

// writeSeriesCSV stores a full series in dataset format so it can be re-read
// as observations.
func writeSeriesCSV(path string, start time.Time, full []engine.DayRecord) error {
	days := make([]int, len(full))
	for i, rec := range full {
		days[i] = rec.Day
	}
	cfg := dataset.DefaultSynthConfig()
	cfg.Noise = 0
	d := dataset.Synthesize(full, start, days, cfg)
	if err := d.Save(path); err != nil {
		return err
	}
	slog.Info("series written", "path", path, "days", d.Len())
	return nil
}

func writeChart(path, title string, obs *dataset.Dataset, full []engine.DayRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := report.RenderChart(f, title, obs, full); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("chart written", "path", path)
	return nil
}
