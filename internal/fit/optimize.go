// Optimizer driver: multi-start Nelder-Mead over the 17-element parameter
// vector using gonum's derivative-free minimizer.
package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize"

	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/entropy"
)

// Trial is one objective evaluation made during a fit.
type Trial struct {
	Restart int       `json:"restart"`
	N       int       `json:"n"`
	X       []float64 `json:"x"`
	Score   float64   `json:"score"`
}

// Result is the outcome of a fit: the best point over all restarts.
type Result struct {
	X           []float64     `json:"x"`
	Score       float64       `json:"score"`
	Restart     int           `json:"restart"`
	Evaluations int           `json:"evaluations"`
	Status      string        `json:"status"`
	Runtime     time.Duration `json:"runtime"`
}

// Fitter minimizes an Objective with Nelder–Mead. Restart 0 starts from the
// given vector; further restarts start from jittered copies of it and run
// concurrently. Each restart draws evaluation seeds from its own stream
// derived from the objective's base seed, so a fixed seed reproduces the fit.
type Fitter struct {
	Objective      *Objective
	MaxEvaluations int     // Per restart; 0 leaves gonum's default
	Restarts       int     // Total starts, at least 1
	Jitter         float64 // Relative perturbation of restart starts
	Seed           uint64

	// OnTrial, when set, receives every evaluation. Calls are serialized.
	OnTrial func(Trial)

	mu sync.Mutex
}

// DefaultJitter perturbs restart starting points by up to ±25%.
const DefaultJitter = 0.25

// Fit runs every restart and returns the best result. Cancelling ctx makes
// remaining evaluations return Penalty so the minimizers wind down quickly.
func (f *Fitter) Fit(ctx context.Context, start []float64) (Result, error) {
	if f.Objective == nil {
		return Result{}, errors.New("fitter has no objective")
	}
	if len(start) != engine.VectorLen {
		return Result{}, fmt.Errorf("%w: %d given", engine.ErrParamCount, len(start))
	}
	restarts := max(f.Restarts, 1)
	jitter := f.Jitter
	if jitter == 0 {
		jitter = DefaultJitter
	}

	starts := make([][]float64, restarts)
	starts[0] = slices.Clone(start)
	rng := entropy.New(f.Seed + 1)
	for i := 1; i < restarts; i++ {
		x := slices.Clone(start)
		for j := range x {
			x[j] *= 1 + jitter*(2*rng.Float64()-1)
		}
		starts[i] = x
	}

	began := time.Now()
	results := make([]Result, restarts)
	g, gctx := errgroup.WithContext(ctx)
	for i := range starts {
		g.Go(func() error {
			res, err := f.run(gctx, i, starts[i])
			if err != nil {
				return fmt.Errorf("restart %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	best := results[0]
	total := 0
	for _, r := range results {
		total += r.Evaluations
		if r.Score < best.Score {
			best = r
		}
	}
	best.Evaluations = total
	best.Runtime = time.Since(began)

	slog.Info("fit finished",
		"score", best.Score,
		"restart", best.Restart,
		"evaluations", total,
		"status", best.Status,
		"runtime", best.Runtime.Round(time.Millisecond),
	)
	return best, nil
}

func (f *Fitter) run(ctx context.Context, restart int, x0 []float64) (Result, error) {
	obj := *f.Objective
	obj.Seeder = entropy.NewSeeder(entropy.Derive(f.Objective.Seeder.Seed(), uint64(restart)))
	score := obj.Func()
	n := 0
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if ctx.Err() != nil {
				return Penalty
			}
			v := score(x)
			f.trial(Trial{Restart: restart, N: n, X: slices.Clone(x), Score: v})
			n++
			return v
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: f.MaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 200,
		},
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if res == nil {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return Result{}, err
	}
	if err != nil {
		slog.Warn("optimizer stopped early", "restart", restart, "error", err)
	}
	out := Result{
		X:           slices.Clone(res.X),
		Score:       res.F,
		Restart:     restart,
		Evaluations: res.Stats.FuncEvaluations,
		Status:      res.Status.String(),
	}
	if math.IsNaN(out.Score) {
		out.Score = Penalty
	}
	slog.Debug("restart finished", "restart", restart, "score", out.Score, "status", out.Status)
	return out, nil
}

func (f *Fitter) trial(t Trial) {
	if f.OnTrial == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OnTrial(t)
}
