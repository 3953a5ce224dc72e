package berry

import "fmt"

// Uniform is the source of the loss draw made at each stage transition.
// *math/rand/v2.Rand satisfies it.
type Uniform interface {
	Float64() float64
}

// Thresholds holds the dwell time, in days, for each active stage.
// It is a value type: every Berry owns its own copy.
type Thresholds [NumActive]int

// For returns the threshold of an active stage, or 0 for terminal stages.
func (t Thresholds) For(s Stage) int {
	if !s.IsActive() {
		return 0
	}
	return t[s]
}

// Berry is one simulated fruit.
type Berry struct {
	Stage      Stage      `json:"stage"`
	StageAge   int        `json:"stage_age"` // Days in the current stage
	TotalAge   int        `json:"total_age"` // Days since creation, never reset
	Terminal   bool       `json:"terminal"`
	Thresholds Thresholds `json:"thresholds"`

	BornDay int `json:"born_day"` // Simulation day of creation
	Day     int `json:"day"`      // Day passed to the most recent Advance
}

// New creates a berry in the given stage on the given day.
func New(stage Stage, day int, thresholds Thresholds) *Berry {
	return &Berry{
		Stage:      stage,
		Terminal:   stage.IsTerminal(),
		Thresholds: thresholds,
		BornDay:    day,
		Day:        day,
	}
}

// Advance moves the berry forward one day. Ages always increase, even for
// terminal berries. A non-terminal berry whose stage age has passed its
// threshold either moves to the next stage or, with probability lossProb,
// is lost. Blue berries never advance on their own; they wait for Pick.
func (b *Berry) Advance(day int, lossProb float64, rng Uniform) *Berry {
	b.Day = day
	b.TotalAge++
	b.StageAge++
	if !b.Terminal {
		b.transition(lossProb, rng)
	}
	return b
}

func (b *Berry) transition(lossProb float64, rng Uniform) {
	if b.StageAge <= b.Thresholds.For(b.Stage) {
		return
	}
	next, ok := b.Stage.Next()
	if !ok {
		return
	}
	// Inclusive: a draw equal to lossProb loses the berry.
	if rng.Float64() <= lossProb {
		b.Loose()
		return
	}
	b.Stage = next
	b.StageAge = 0
}

// Pick harvests a blue berry. Any other stage is left untouched.
func (b *Berry) Pick() *Berry {
	if b.Stage == StageBlue {
		b.Stage = StagePicked
		b.Terminal = true
		b.StageAge = 0
	}
	return b
}

// Loose marks a non-terminal berry as lost.
func (b *Berry) Loose() *Berry {
	if !b.Terminal {
		b.Stage = StageLost
		b.Terminal = true
		b.StageAge = 0
	}
	return b
}

func (b *Berry) String() string {
	return fmt.Sprintf("stage=%s stage_age=%d total_age=%d thresholds=%v",
		b.Stage, b.StageAge, b.TotalAge, b.Thresholds)
}
