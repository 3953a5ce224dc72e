// Population dynamics: one day of ageing and loss for every berry, plus
// picking and the daily stage-count record.
package engine

import (
	"github.com/talgya/berrysim/internal/berry"
)

// Population is the set of berries in one run. Berries are never removed:
// picked and lost berries stay as records of what happened.
type Population []*berry.Berry

// Step advances every berry one day, using the loss probability of its
// current stage. Stages not configured in ps have no loss.
func (p Population) Step(day int, ps ParameterSet, rng berry.Uniform) Population {
	for _, b := range p {
		b.Advance(day, ps.LossFor(b.Stage), rng)
	}
	return p
}

// Harvest picks every blue berry.
func (p Population) Harvest() int {
	picked := 0
	for _, b := range p {
		if b.Stage == berry.StageBlue {
			b.Pick()
			picked++
		}
	}
	return picked
}

// Loose runs an independent loss draw for every non-terminal berry using its
// stage's loss probability, outside of any stage transition.
func (p Population) Loose(ps ParameterSet, rng berry.Uniform) int {
	lost := 0
	for _, b := range p {
		if b.Terminal {
			continue
		}
		if rng.Float64() <= ps.LossFor(b.Stage) {
			b.Loose()
			lost++
		}
	}
	return lost
}

// Aggregate counts berries per stage for the given day.
func (p Population) Aggregate(day int) DayRecord {
	rec := DayRecord{Day: day}
	for _, b := range p {
		rec.Counts[b.Stage]++
	}
	return rec
}
