// Package fit scores candidate parameter vectors against an observed dataset
// and drives a derivative-free optimizer over them.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/berrysim/internal/dataset"
	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/entropy"
)

// DefaultSamples is the number of evaluations ScoreAveraged combines when the
// caller passes zero.
const DefaultSamples = 20

// Options configures an Objective.
type Options struct {
	Blue             int                // Initial blue count; blue is never observed
	Harvest          engine.HarvestFunc // Nil means Fridays counted from the dataset start
	Seed             uint64             // Base seed; 0 draws one from crypto/rand
	Workers          int                // Parallel evaluations; <= 0 means GOMAXPROCS
	RandomInitialAge bool
	MaxPopulation    int // Per-run berry cap; 0 means engine.DefaultMaxPopulation
}

// Objective is the scalar least-squares objective over one dataset.
// It is safe for concurrent use.
type Objective struct {
	Data    *dataset.Dataset
	Init    engine.InitialCounts
	Harvest engine.HarvestFunc
	Seeder  *entropy.Seeder
	Workers int

	RandomInitialAge bool
	MaxPopulation    int

	scaler *Scaler
	scaled []Row // Observed rows, standardized
	days   []int
}

// NewObjective fits the scaler on the observed counts and seeds the day-0
// population from the earliest observation.
func NewObjective(data *dataset.Dataset, opts Options) (*Objective, error) {
	if data == nil || data.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	harvest := opts.Harvest
	if harvest == nil {
		harvest = engine.FridayHarvest(data.StartDate())
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	maxPop := opts.MaxPopulation
	if maxPop == 0 {
		maxPop = engine.DefaultMaxPopulation
	}
	obs := data.Matrix()
	sc := FitScaler(obs)
	return &Objective{
		Data:             data,
		Init:             data.InitialCounts(opts.Blue),
		Harvest:          harvest,
		Seeder:           entropy.NewSeeder(opts.Seed),
		Workers:          workers,
		RandomInitialAge: opts.RandomInitialAge,
		MaxPopulation:    maxPop,
		scaler:           sc,
		scaled:           sc.Transform(obs),
		days:             data.Days(),
	}, nil
}

// Scaler returns the scaler fitted on the observed counts.
func (o *Objective) Scaler() *Scaler {
	return o.scaler
}

// Simulate runs one evaluation of x over the observed days with harvesting
// on. It returns the observed-day records and the full daily series.
func (o *Objective) Simulate(x []float64, seed uint64) (eval, full []engine.DayRecord, stats engine.SimStats, err error) {
	ps, err := engine.Unwrap(x, o.Init)
	if err != nil {
		return nil, nil, stats, err
	}
	sim := o.NewSimulation(seed)
	eval, full = sim.Evaluate(o.days, ps, true)
	return eval, full, sim.Stats, nil
}

// NewSimulation builds a run configured like the objective's own evaluations.
func (o *Objective) NewSimulation(seed uint64) *engine.Simulation {
	sim := engine.NewSimulation(entropy.New(seed), o.Harvest)
	sim.Spawner.RandomInitialAge = o.RandomInitialAge
	sim.MaxPopulation = o.MaxPopulation
	return sim
}

// Score runs one stochastic evaluation of x and returns the NaN-ignoring mean
// squared error between standardized simulated and observed counts over the
// five observed stages. If every cell is NaN the score is NaN. A run that
// hits MaxPopulation returns engine.ErrPopulationLimit.
func (o *Objective) Score(x []float64) (float64, error) {
	eval, _, stats, err := o.Simulate(x, o.Seeder.NextSeed())
	if err != nil {
		return math.NaN(), err
	}
	if stats.Capped {
		return math.NaN(), fmt.Errorf("%w: %d berries", engine.ErrPopulationLimit, stats.Population)
	}
	sim := o.alignRows(eval)
	score, n := NaNMeanSquaredError(o.scaler.Transform(sim), o.scaled)
	slog.Debug("score", "value", score, "cells", n)
	return score, nil
}

// ScoreAveraged runs samples independent evaluations of x concurrently,
// averages the daily stage counts, and returns, per dataset row, the sum of
// the five observed-stage averages on that row's day. Zero samples means
// DefaultSamples.
func (o *Objective) ScoreAveraged(ctx context.Context, x []float64, samples int) ([]float64, error) {
	if samples <= 0 {
		samples = DefaultSamples
	}
	ps, err := engine.Unwrap(x, o.Init)
	if err != nil {
		return nil, err
	}

	seeds := o.Seeder.Seeds(samples)
	runs := make([][]engine.DayRecord, samples)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for i, seed := range seeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sim := o.NewSimulation(seed)
			_, runs[i] = sim.Evaluate(o.days, ps, true)
			if sim.Stats.Capped {
				return fmt.Errorf("%w: %d berries", engine.ErrPopulationLimit, sim.Stats.Population)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("averaged evaluation: %w", err)
	}

	avg := AverageSeries(runs)
	out := make([]float64, len(o.days))
	for i, day := range o.days {
		if day < 0 || day >= len(avg) {
			out[i] = math.NaN()
			continue
		}
		for _, v := range avg[day] {
			out[i] += v
		}
	}
	return out, nil
}

// AverageSeries returns the per-day mean observed-stage counts of several
// full series. Series may differ in length; each day averages the runs that
// reached it.
func AverageSeries(runs [][]engine.DayRecord) []Row {
	var days int
	for _, r := range runs {
		days = max(days, len(r))
	}
	sum := make([]Row, days)
	n := make([]int, days)
	for _, r := range runs {
		for d, rec := range r {
			obs := rec.Observed()
			for j := range obs {
				sum[d][j] += obs[j]
			}
			n[d]++
		}
	}
	for d := range sum {
		if n[d] == 0 {
			continue
		}
		for j := range sum[d] {
			sum[d][j] /= float64(n[d])
		}
	}
	return sum
}

// Func adapts Score to an optimizer callback. Errors, capped runs and NaN
// scores map to Penalty.
func (o *Objective) Func() func(x []float64) float64 {
	return func(x []float64) float64 {
		v, err := o.Score(x)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Penalty
		}
		return v
	}
}

// Penalty is the objective value reported for unusable candidates.
const Penalty = 1e12

// alignRows maps evaluation records onto dataset rows by day, so duplicate
// observation days share one simulated record. Missing days are NaN rows.
func (o *Objective) alignRows(eval []engine.DayRecord) []Row {
	byDay := make(map[int]Row, len(eval))
	for _, rec := range eval {
		byDay[rec.Day] = rec.Observed()
	}
	rows := make([]Row, len(o.days))
	for i, day := range o.days {
		r, ok := byDay[day]
		if !ok {
			for j := range r {
				r[j] = math.NaN()
			}
		}
		rows[i] = r
	}
	return rows
}
