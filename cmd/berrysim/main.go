// Command berrysim simulates berry ripening populations and fits their
// stage-duration, loss, and arrival parameters to observed counts.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/berrysim/internal/config"
	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/fit"
	"github.com/talgya/berrysim/internal/logging"
	"github.com/talgya/berrysim/internal/persistence"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the resolved configuration to every subcommand.
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "berrysim",
		Short: "Berry ripening population simulator and curve fitter",
		Long: `berrysim models berries ripening through green, colour break, pink,
cherry and blue stages, with weekly picking and random losses, and fits the
model's per-stage durations, loss rates and green arrival rate to observed
stage counts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().Uint64("seed", 0, "Random seed (0 = fresh)")
	rootCmd.PersistentFlags().String("dataset", "", "Observed dataset CSV")
	rootCmd.PersistentFlags().String("db", "", "SQLite database for fit runs")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log every evaluation (same as --log-level debug)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(a),
		newScoreCmd(a),
		newFitCmd(a),
		newSynthCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
	)
	return rootCmd
}

// load resolves config: file, environment, then explicit flags.
func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("dataset") {
		cfg.Dataset, _ = flags.GetString("dataset")
	}
	if flags.Changed("db") {
		cfg.Database, _ = flags.GetString("db")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	a.cfg = cfg
	return nil
}

// ── Shared helpers ────────────────────────────────────────────────────

func (a *app) loadDataset() (*dataset.Dataset, error) {
	if a.cfg.Dataset == "" {
		return nil, errors.New("no dataset: set --dataset, BERRYSIM_DATASET or dataset in the config file")
	}
	d, err := dataset.Load(a.cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	slog.Info("dataset loaded", "path", d.Source, "rows", d.Len(), "last_day", d.LastDay())
	return d, nil
}

func (a *app) harvestFunc(start time.Time) engine.HarvestFunc {
	if !a.cfg.Harvest.Enabled {
		return engine.NeverHarvest
	}
	wd, err := engine.ParseWeekday(a.cfg.Harvest.Weekday)
	if err != nil {
		// Validate has already rejected bad weekdays.
		return engine.FridayHarvest(start)
	}
	return engine.WeeklyHarvest(start, wd)
}

func (a *app) objective(d *dataset.Dataset) (*fit.Objective, error) {
	return fit.NewObjective(d, fit.Options{
		Blue:             a.cfg.InitialBlue,
		Harvest:          a.harvestFunc(d.StartDate()),
		Seed:             a.cfg.Seed,
		Workers:          a.cfg.Fit.Workers,
		RandomInitialAge: a.cfg.RandomInitialAge,
	})
}

func (a *app) openDB() (*persistence.DB, error) {
	if a.cfg.Database == "" {
		return nil, nil
	}
	db, err := persistence.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	slog.Debug("database opened", "path", a.cfg.Database)
	return db, nil
}

// vectorFlag reads --params as comma-separated numbers, falling back to the
// configured start vector.
func (a *app) vectorFlag(cmd *cobra.Command) ([]float64, error) {
	s, _ := cmd.Flags().GetString("params")
	if strings.TrimSpace(s) == "" {
		return a.cfg.StartVector(), nil
	}
	return parseFloats(s)
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fs, err := parseFloats(s)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, v := range fs {
		if v != float64(int(v)) {
			return nil, fmt.Errorf("%v is not a whole number", v)
		}
		out[i] = int(v)
	}
	return out, nil
}

// parseInit reads six comma-separated initial counts, green through blue.
func parseInit(s string) (engine.InitialCounts, error) {
	var init engine.InitialCounts
	vals, err := parseInts(s)
	if err != nil {
		return init, err
	}
	if len(vals) != len(init) {
		return init, fmt.Errorf("initial counts need %d values (green..blue), got %d", len(init), len(vals))
	}
	for i, v := range vals {
		if v < 0 {
			return init, fmt.Errorf("initial count %d is negative", v)
		}
		init[i] = v
	}
	return init, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
