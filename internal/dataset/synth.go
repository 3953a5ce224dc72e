// Synthetic observations: turns a simulated series into an observed-style
// dataset with smooth, correlated counting error from layered simplex noise.
package dataset

import (
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/berrysim/internal/berry"
	"github.com/talgya/berrysim/internal/engine"
)

// SynthConfig controls synthetic dataset generation.
type SynthConfig struct {
	Seed  int64   // Noise seed
	Noise float64 // Relative counting error amplitude (0.1 = ±10%)
	Scale float64 // Days per noise wavelength; larger = slower drift
}

// DefaultSynthConfig returns a mild, slowly drifting counting error.
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		Seed:  1,
		Noise: 0.1,
		Scale: 12,
	}
}

// Synthesize samples full on the given days and perturbs each stage count.
// Days past the end of full are skipped.
func Synthesize(full []engine.DayRecord, start time.Time, days []int, cfg SynthConfig) *Dataset {
	noise := opensimplex.New(cfg.Seed)
	detail := opensimplex.New(cfg.Seed + 1)
	scale := cfg.Scale
	if scale <= 0 {
		scale = 1
	}

	d := &Dataset{Source: "synthetic"}
	for _, day := range days {
		if day < 0 || day >= len(full) {
			continue
		}
		rec := full[day]
		obs := Record{
			Date:           engine.SimDate(start, day),
			DaysSinceStart: day,
		}
		for i, st := range berry.ObservedStages {
			x := float64(day) / scale
			y := float64(i) * 3.7
			// Two octaves: a slow drift plus a finer wobble at half amplitude.
			n := noise.Eval2(x, y) + 0.5*detail.Eval2(2*x, y)
			v := float64(rec.Count(st)) * (1 + cfg.Noise*n/1.5)
			obs.Counts[i] = math.Max(0, math.Round(v))
		}
		d.Records = append(d.Records, obs)
	}
	d.sortByDay()
	return d
}
