// Berry spawning: per-berry dwell thresholds and starting ages, the initial
// population, and daily arrival cohorts.
package engine

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/berrysim/internal/berry"
)

// Spawner creates berries for a single simulation run.
// It is not safe for concurrent use; every run owns its own.
type Spawner struct {
	rng *rand.Rand

	// RandomInitialAge seeds cohorts with a Poisson-sampled stage age
	// instead of starting them at zero.
	RandomInitialAge bool
}

// NewSpawner creates a spawner drawing from rng.
func NewSpawner(rng *rand.Rand) *Spawner {
	return &Spawner{rng: rng}
}

// SampleThresholds draws one dwell threshold per configured stage from
// Normal(mu, sigma), rounded and made non-negative. Blue is always 0.
// Stages absent from ps keep their default dwell.
func (s *Spawner) SampleThresholds(ps ParameterSet) berry.Thresholds {
	th := berry.DefaultDwell
	for _, st := range berry.ObservedStages {
		sp, ok := ps.Lookup(st)
		if !ok {
			continue
		}
		th[st] = s.normalDays(sp.Mu, sp.Sigma)
	}
	th[berry.StageBlue] = 0
	return th
}

// SampleInitialAge draws a starting age for a berry seeded into stage.
// Blue berries start at 0; others draw from Poisson(mu).
func (s *Spawner) SampleInitialAge(stage berry.Stage, ps ParameterSet) int {
	if stage == berry.StageBlue {
		return 0
	}
	sp, ok := ps.Lookup(stage)
	if !ok {
		return 0
	}
	return s.poisson(sp.Mu)
}

// Cohort creates n berries in stage on day. Each berry gets its own
// independently sampled thresholds.
func (s *Spawner) Cohort(n int, stage berry.Stage, day int, ps ParameterSet) []*berry.Berry {
	return s.cohort(n, stage, day, ps, s.RandomInitialAge)
}

// Arrive creates n new green berries on day. Arrivals always start at age 0.
func (s *Spawner) Arrive(n int, day int, ps ParameterSet) []*berry.Berry {
	return s.cohort(n, berry.StageGreen, day, ps, false)
}

func (s *Spawner) cohort(n int, stage berry.Stage, day int, ps ParameterSet, randomAge bool) []*berry.Berry {
	if n <= 0 {
		return nil
	}
	cohort := make([]*berry.Berry, 0, n)
	for i := 0; i < n; i++ {
		b := berry.New(stage, day, s.SampleThresholds(ps))
		if randomAge {
			age := s.SampleInitialAge(stage, ps)
			b.StageAge = age
			b.TotalAge = age
		}
		cohort = append(cohort, b)
	}
	return cohort
}

// InitialPopulation seeds every configured stage with its Init count on day 0.
func (s *Spawner) InitialPopulation(ps ParameterSet) Population {
	var pop Population
	for _, st := range berry.ActiveStages {
		sp, ok := ps.Lookup(st)
		if !ok {
			continue
		}
		pop = append(pop, s.Cohort(sp.Init, st, 0, ps)...)
	}
	return pop
}

// Arrivals draws the number of new green berries for one day.
func (s *Spawner) Arrivals(lambda float64) int {
	return s.poisson(lambda)
}

// normalDays rounds a normal draw to whole, non-negative days.
// Negative draws are reflected rather than truncated, so the sampled
// distribution is a folded normal.
func (s *Spawner) normalDays(mu, sigma float64) int {
	if sigma == 0 || math.IsNaN(sigma) {
		return wholeDays(mu)
	}
	d := distuv.Normal{Mu: mu, Sigma: math.Abs(sigma), Src: s.rng}
	return wholeDays(d.Rand())
}

func (s *Spawner) poisson(mean float64) int {
	mean = math.Abs(mean)
	if mean == 0 || math.IsNaN(mean) {
		return 0
	}
	if mean > maxDays {
		mean = maxDays
	}
	d := distuv.Poisson{Lambda: mean, Src: s.rng}
	return wholeDays(d.Rand())
}

// maxDays caps sampled values so absurd optimizer candidates cannot overflow.
const maxDays = 1 << 20

func wholeDays(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Abs(math.Round(v))
	if v > maxDays {
		return maxDays
	}
	return int(v)
}
