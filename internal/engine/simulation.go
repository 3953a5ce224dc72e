// Simulation ties the spawner, the population, and the harvest policy together
// and runs them one day at a time.
package engine

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/talgya/berrysim/internal/berry"
)

// Simulation holds the state of a single run. A Simulation is used by one
// goroutine; parallel runs each build their own with an independent rng.
type Simulation struct {
	Population Population
	Spawner    *Spawner

	// HarvestDay decides which days are picking days when harvesting is on.
	HarvestDay HarvestFunc

	// OnDay, when set, receives every daily record as it is produced.
	OnDay func(rec DayRecord)

	// MaxPopulation caps the berries a run may hold. Arrivals beyond it are
	// dropped and the run is marked Capped. Zero or less means no cap.
	MaxPopulation int

	// Stats of the most recent Evaluate.
	Stats SimStats

	rng *rand.Rand
}

// SimStats summarizes a finished run.
type SimStats struct {
	Days       int  `json:"days"`
	Population int  `json:"population"`
	Arrivals   int  `json:"arrivals"`
	Harvests   int  `json:"harvests"`
	Picked     int  `json:"picked"`
	Lost       int  `json:"lost"`
	Capped     bool `json:"capped"` // MaxPopulation was reached
}

// DefaultMaxPopulation is the population cap of a new Simulation.
const DefaultMaxPopulation = 250_000

// ErrPopulationLimit reports a run that reached its population cap.
var ErrPopulationLimit = errors.New("population limit exceeded")

// NewSimulation creates a run drawing all randomness from rng.
// A nil harvestDay means the run never harvests.
func NewSimulation(rng *rand.Rand, harvestDay HarvestFunc) *Simulation {
	if harvestDay == nil {
		harvestDay = NeverHarvest
	}
	return &Simulation{
		Spawner:    NewSpawner(rng),
		HarvestDay:    harvestDay,
		MaxPopulation: DefaultMaxPopulation,
		rng:           rng,
	}
}

// Evaluate runs the model from day 0 through the last observed day.
// Each day it records the population, draws new arrivals, harvests if
// enabled and due, advances every berry, then adds the arrivals as green
// berries. It returns the records of the observed days and the full series.
// Once the population reaches MaxPopulation no further berries arrive and
// Stats.Capped is set.
func (s *Simulation) Evaluate(observedDays []int, ps ParameterSet, harvest bool) (eval, full []DayRecord) {
	if len(observedDays) == 0 {
		return nil, nil
	}
	lastDay := slices.Max(observedDays)
	if lastDay < 0 {
		return nil, nil
	}
	observed := make(map[int]bool, len(observedDays))
	for _, d := range observedDays {
		observed[d] = true
	}

	s.Population = s.Spawner.InitialPopulation(ps)
	s.Stats = SimStats{}
	if s.MaxPopulation > 0 && len(s.Population) > s.MaxPopulation {
		s.Stats.Capped = true
	}
	full = make([]DayRecord, 0, lastDay+1)

	for day := 0; day <= lastDay; day++ {
		rec := s.Population.Aggregate(day)

		arrivals := s.Spawner.Arrivals(ps.Lambda)
		if s.MaxPopulation > 0 {
			if room := max(s.MaxPopulation-len(s.Population), 0); arrivals > room {
				arrivals = room
				s.Stats.Capped = true
			}
		}
		rec.NewBerries = arrivals
		if len(full) > 0 {
			rec.NewBerries += full[len(full)-1].NewBerries
		}

		full = append(full, rec)
		if observed[day] {
			eval = append(eval, rec)
		}
		if s.OnDay != nil {
			s.OnDay(rec)
		}

		if harvest && s.HarvestDay(day) {
			s.Stats.Harvests++
			s.Stats.Picked += s.Population.Harvest()
		}

		s.Population.Step(day, ps, s.rng)
		s.Population = append(s.Population, s.Spawner.Arrive(arrivals, day, ps)...)
		s.Stats.Arrivals += arrivals
	}

	last := s.Population.Aggregate(lastDay + 1)
	s.Stats.Days = lastDay + 1
	s.Stats.Population = len(s.Population)
	s.Stats.Lost = last.Count(berry.StageLost)

	slog.Debug("evaluation finished",
		"days", s.Stats.Days,
		"population", s.Stats.Population,
		"arrivals", s.Stats.Arrivals,
		"harvests", s.Stats.Harvests,
		"picked", s.Stats.Picked,
		"lost", s.Stats.Lost,
		"capped", s.Stats.Capped,
	)
	return eval, full
}
