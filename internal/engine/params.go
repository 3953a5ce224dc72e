package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/berrysim/internal/berry"
)

// VectorLen is the number of scalars in a flat candidate parameter vector:
// mu, sigma and loss for the five observed stages, blue loss, green lambda.
const VectorLen = 17

// ErrParamCount is returned when a candidate vector does not hold exactly
// VectorLen scalars.
var ErrParamCount = errors.New("parameter vector must have exactly 17 elements")

// StageParams configures one stage for a simulation run.
type StageParams struct {
	Init  int     `json:"init"`  // Berries seeded into the stage on day 0
	Mu    float64 `json:"mu"`    // Mean dwell time (days)
	Sigma float64 `json:"sigma"` // Dwell time spread
	Loss  float64 `json:"loss"`  // Probability of loss at each transition out of the stage
}

// ParameterSet is the full configuration of one simulation run.
// It is never mutated once a run has started.
type ParameterSet struct {
	Stages map[berry.Stage]StageParams `json:"stages"`
	Lambda float64                     `json:"lambda"` // Mean daily arrivals of new green berries
}

// Lookup returns the parameters of a stage and whether the stage is configured.
func (p ParameterSet) Lookup(s berry.Stage) (StageParams, bool) {
	sp, ok := p.Stages[s]
	return sp, ok
}

// LossFor returns the loss probability for a stage, 0 when unconfigured.
func (p ParameterSet) LossFor(s berry.Stage) float64 {
	if sp, ok := p.Stages[s]; ok {
		return sp.Loss
	}
	return 0
}

// InitialCounts is the number of berries seeded into each active stage on day 0.
type InitialCounts [berry.NumActive]int

// Unwrap turns a flat candidate vector into a ParameterSet. The slot order is
// all five mu values, all five sigma values, all five loss values, blue loss,
// then green lambda. Blue loss has no effect in Simulation.Evaluate, since blue
// has no later stage; only Population.Loose reads it.
func Unwrap(x []float64, init InitialCounts) (ParameterSet, error) {
	if len(x) != VectorLen {
		return ParameterSet{}, fmt.Errorf("%w: %d given", ErrParamCount, len(x))
	}

	ps := ParameterSet{
		Stages: make(map[berry.Stage]StageParams, berry.NumActive),
		Lambda: x[VectorLen-1],
	}
	for i, st := range berry.ObservedStages {
		ps.Stages[st] = StageParams{
			Init:  init[st],
			Mu:    x[i],
			Sigma: x[i+berry.NumObserved],
			Loss:  x[i+2*berry.NumObserved],
		}
	}
	// Blue only carries its seed count and loss.
	ps.Stages[berry.StageBlue] = StageParams{
		Init: init[berry.StageBlue],
		Loss: x[VectorLen-2],
	}
	return ps, nil
}

// Wrap is the inverse of Unwrap. Stages missing from ps contribute zeros.
func Wrap(ps ParameterSet) []float64 {
	x := make([]float64, VectorLen)
	for i, st := range berry.ObservedStages {
		sp := ps.Stages[st]
		x[i] = sp.Mu
		x[i+berry.NumObserved] = sp.Sigma
		x[i+2*berry.NumObserved] = sp.Loss
	}
	x[VectorLen-2] = ps.Stages[berry.StageBlue].Loss
	x[VectorLen-1] = ps.Lambda
	return x
}

// DefaultVector returns a starting candidate built from the default dwell
// times, a modest spread and loss, and the given arrival rate.
func DefaultVector(lambda float64) []float64 {
	x := make([]float64, VectorLen)
	for i, st := range berry.ObservedStages {
		x[i] = float64(berry.DefaultDwell[st])
		x[i+berry.NumObserved] = 2
		x[i+2*berry.NumObserved] = 0.05
	}
	x[VectorLen-2] = 0.05
	x[VectorLen-1] = lambda
	return x
}

// VectorLabels names each slot of a candidate vector, e.g. "green.mu".
func VectorLabels() []string {
	labels := make([]string, 0, VectorLen)
	for _, field := range []string{"mu", "sigma", "loss"} {
		for _, st := range berry.ObservedStages {
			labels = append(labels, st.String()+"."+field)
		}
	}
	return append(labels, "blue.loss", "green.lambda")
}
